package xcpudp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestIsTemporary(t *testing.T) {
	if IsTemporary(nil) {
		t.Error("nil reported as temporary")
	}
	if !IsTemporary(ErrNoData) {
		t.Error("ErrNoData not reported as temporary")
	}
	if IsTemporary(errors.New("boom")) {
		t.Error("plain error reported as temporary")
	}
	timeout := &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	if !IsTemporary(timeout) {
		t.Error("timeout not reported as temporary")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestUDPConn_ReceiveTimeout(t *testing.T) {
	conn, err := ListenUDP(context.Background(), "127.0.0.1:0", 10*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 64)
	if _, _, err := conn.Receive(buf); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestUDPConn_BlockingReceive(t *testing.T) {
	conn, err := ListenUDP(context.Background(), "127.0.0.1:0", -1, 0)
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := conn.Receive(make([]byte, 64))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Receive returned without data: %v", err)
	case <-time.After(2 * DefaultReceiveTimeout):
	}

	if err := conn.(deadlineConn).SetReadDeadline(time.Now()); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrNoData) {
			t.Errorf("expected ErrNoData, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive not interrupted")
	}
}

func TestUDPConn_SendReceive(t *testing.T) {
	conn, err := ListenUDP(context.Background(), "127.0.0.1:0", time.Second, 64*1024)
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer conn.Close()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen failed: %v", err)
	}
	defer peer.Close()

	if _, err := peer.WriteToUDP([]byte("ping"), conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}

	buf := make([]byte, 64)
	n, src, err := conn.Receive(buf)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("received %q", buf[:n])
	}
	if !sameAddr(src, peer.LocalAddr().(*net.UDPAddr)) {
		t.Errorf("source = %v, want %v", src, peer.LocalAddr())
	}

	if err := conn.SendTo([]byte("pong"), src); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err = peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read failed: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Errorf("peer received %q", buf[:n])
	}
}

func TestUDPConn_Closed(t *testing.T) {
	conn, err := ListenUDP(context.Background(), "127.0.0.1:0", 10*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, _, err := conn.Receive(make([]byte, 8)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if err := conn.SendTo([]byte{1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestListen_InvalidAddress(t *testing.T) {
	_, err := Listen(context.Background(), "127.0.0.1:99999", &fakeInterpreter{}, LoggerOption(DiscardLogger()))
	if err == nil {
		t.Fatal("expected error for invalid address")
	}
}

// End to end over loopback: CONNECT handshake, response, DTO datagrams.
func TestListen_EndToEnd(t *testing.T) {
	interp := &fakeInterpreter{}
	s, err := Listen(context.Background(), "127.0.0.1:0", interp,
		LoggerOption(DiscardLogger()),
		ReceiveTimeoutOption(10*time.Millisecond),
		FlushIntervalOption(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	client, err := net.DialUDP("udp4", nil, s.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(encode(t, 0, CmdConnect, 0x00)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	buf := make([]byte, DefaultMTU)
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading CONNECT response failed: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x01, 0x00, 0x01, 0x00, 0xFF}) {
		t.Fatalf("CONNECT response = % X", buf[:n])
	}

	for i := 0; i < 3; i++ {
		if err := s.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	var got []byte
	for len(got) < 3 {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("reading DTO datagram failed: %v", err)
		}
		for _, m := range splitDatagram(t, buf[:n], CounterFirst) {
			if int(m.header.Counter) != len(got) {
				t.Errorf("counter = %d, want %d", m.header.Counter, len(got))
			}
			got = append(got, m.payload...)
		}
	}
	if !bytes.Equal(got, []byte{0, 1, 2}) {
		t.Errorf("DTO payloads = % X", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}

func TestListen_BlockingReceiveStopsOnCancel(t *testing.T) {
	s, err := Listen(context.Background(), "127.0.0.1:0", &fakeInterpreter{},
		LoggerOption(DiscardLogger()),
		ReceiveTimeoutOption(-1),
	)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- s.Run(ctx)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("run %d: expected context.Canceled, got %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: Run blocked in receive after cancel", i)
		}
	}
}
