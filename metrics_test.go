package xcpudp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.datagramSent(10)
	m.sendFailed()
	m.dtoReserved()
	m.dtoOverflow()
	m.commandReceived()
	m.datagramIgnored(ignoredEmpty)
	m.clientConnected()
	m.clientDisconnected()
	m.setQueueLength(3)
}

func TestMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")

	m.datagramIgnored(ignoredSender)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"xcp_udp_datagrams_sent_total",
		"xcp_udp_dto_overflow_total",
		"xcp_udp_datagrams_ignored_total",
		"xcp_udp_queue_length",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetrics_ServerActivity(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "test")
	s, conn, _ := newTestServer(t, MetricsOption(m), QueueDepthOption(2), MTUOption(64))

	conn.push(encode(t, 0, 0xFA), addrA)
	step(t, s)
	connect(t, s, conn, addrA)
	conn.push(encode(t, 1, 0xFA), addrB)
	step(t, s)

	// Depth 2: one buffer is the tail, the second fills up, the third overflows.
	for i := 0; i < 3; i++ {
		_ = s.Write(make([]byte, 50))
	}

	if got := testutil.ToFloat64(m.datagramsIgnored.WithLabelValues(ignoredHandshake)); got != 1 {
		t.Errorf("ignored(handshake) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.datagramsIgnored.WithLabelValues(ignoredSender)); got != 1 {
		t.Errorf("ignored(foreign_sender) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connects); got != 1 {
		t.Errorf("connects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commandsReceived); got != 1 {
		t.Errorf("commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dtoMessages); got != 2 {
		t.Errorf("dto messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.dtoOverflows); got != 1 {
		t.Errorf("dto overflows = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueLength); got != 2 {
		t.Errorf("queue length = %v, want 2", got)
	}

	if err := s.HandleTransmitQueue(); err != nil {
		t.Fatalf("HandleTransmitQueue failed: %v", err)
	}
	// CONNECT response plus both DTO datagrams.
	if got := testutil.ToFloat64(m.datagramsSent); got != 3 {
		t.Errorf("datagrams sent = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.bytesSent); got != 5+54+54 {
		t.Errorf("bytes sent = %v, want %d", got, 5+54+54)
	}

	s.Disconnect()
	if got := testutil.ToFloat64(m.disconnects); got != 1 {
		t.Errorf("disconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueLength); got != 0 {
		t.Errorf("queue length = %v, want 0", got)
	}
}
