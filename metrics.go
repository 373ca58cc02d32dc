package xcpudp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons recorded by the datagrams_ignored_total counter.
const (
	ignoredEmpty     = "empty"
	ignoredHandshake = "handshake"
	ignoredSender    = "foreign_sender"
)

// Metrics holds the Prometheus collectors of a server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	datagramsSent    prometheus.Counter
	bytesSent        prometheus.Counter
	sendErrors       prometheus.Counter
	dtoMessages      prometheus.Counter
	dtoOverflows     prometheus.Counter
	commandsReceived prometheus.Counter
	datagramsIgnored *prometheus.CounterVec
	connects         prometheus.Counter
	disconnects      prometheus.Counter
	queueLength      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
//
// Metrics collected:
//   - <ns>_datagrams_sent_total, <ns>_bytes_sent_total, <ns>_send_errors_total
//   - <ns>_dto_messages_total, <ns>_dto_overflow_total
//   - <ns>_commands_received_total, <ns>_datagrams_ignored_total{reason}
//   - <ns>_connects_total, <ns>_disconnects_total
//   - <ns>_queue_length
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "xcp"
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		datagramsSent:    counter("datagrams_sent_total", "Total number of datagrams sent to the client"),
		bytesSent:        counter("bytes_sent_total", "Total number of datagram payload bytes sent"),
		sendErrors:       counter("send_errors_total", "Total number of failed datagram sends"),
		dtoMessages:      counter("dto_messages_total", "Total number of DTO messages reserved"),
		dtoOverflows:     counter("dto_overflow_total", "Total number of DTO messages dropped because the transmit queue was full"),
		commandsReceived: counter("commands_received_total", "Total number of commands forwarded to the interpreter"),
		datagramsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_ignored_total",
			Help:      "Total number of received datagrams that were ignored",
		}, []string{"reason"}),
		connects:    counter("connects_total", "Total number of accepted CONNECT handshakes"),
		disconnects: counter("disconnects_total", "Total number of client disconnects"),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "queue_length",
			Help:      "Number of packet buffers in use in the transmit queue",
		}),
	}
}

func (m *Metrics) datagramSent(n int) {
	if m == nil {
		return
	}
	m.datagramsSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) dtoReserved() {
	if m != nil {
		m.dtoMessages.Inc()
	}
}

func (m *Metrics) dtoOverflow() {
	if m != nil {
		m.dtoOverflows.Inc()
	}
}

func (m *Metrics) commandReceived() {
	if m != nil {
		m.commandsReceived.Inc()
	}
}

func (m *Metrics) datagramIgnored(reason string) {
	if m != nil {
		m.datagramsIgnored.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) clientConnected() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) clientDisconnected() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) setQueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}
