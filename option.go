package xcpudp

import (
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidOption is returned when an option value is out of range.
var ErrInvalidOption = errors.New("xcpudp: invalid option")

// Default configuration values.
const (
	// DefaultQueueDepth is the default number of packet buffers in the transmit queue.
	DefaultQueueDepth = 64
	// DefaultMTU is the default datagram payload size: Ethernet MTU minus IPv4 and UDP headers.
	DefaultMTU = 1500 - 20 - 8
	// DefaultMaxCTO is the default maximum size of a command or response packet.
	DefaultMaxCTO = 252
	// DefaultReceiveTimeout bounds how long one receive step waits for a command.
	DefaultReceiveTimeout = 100 * time.Millisecond
	// DefaultFlushInterval is the period at which partially filled datagrams are sent.
	DefaultFlushInterval = 10 * time.Millisecond
	// DefaultSendBufferSize is the default SO_SNDBUF of the socket.
	DefaultSendBufferSize = 2000000
)

// options holds the configuration of a Server. All values are fixed once the
// server is created.
type options struct {
	logger  Logger
	metrics *Metrics

	mode       Mode
	layout     FrameLayout
	queueDepth int // number of packet buffers, ModeQueue only
	mtu        int // maximum datagram payload
	maxCTO     int // maximum command/response packet size

	receiveTimeout time.Duration // wait per receive step
	flushInterval  time.Duration // period of the transmit loop flush
	sendBufferSize int           // SO_SNDBUF, negative keeps the system default

	// anySender forwards commands from any address while connected instead
	// of only from the connected client.
	anySender bool
}

// Option is a function that configures a Server.
type Option func(*options)

// checkOptions fills in defaults and validates the configuration.
func checkOptions(o *options) error {
	if o.queueDepth <= 0 {
		o.queueDepth = DefaultQueueDepth
	}
	if o.mtu <= 0 {
		o.mtu = DefaultMTU
	}
	if o.receiveTimeout == 0 {
		o.receiveTimeout = DefaultReceiveTimeout
	}
	if o.flushInterval <= 0 {
		o.flushInterval = DefaultFlushInterval
	}
	if o.sendBufferSize == 0 {
		o.sendBufferSize = DefaultSendBufferSize
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}

	if o.mtu <= HeaderSize || o.mtu > maxUDPPayload {
		return errors.Wrapf(ErrInvalidOption, "mtu %d out of range (%d..%d]", o.mtu, HeaderSize, maxUDPPayload)
	}
	if o.maxCTO <= 0 {
		o.maxCTO = min(DefaultMaxCTO, MaxPayload(o.mtu))
	}
	if o.maxCTO > MaxPayload(o.mtu) {
		return errors.Wrapf(ErrInvalidOption, "max cto %d exceeds payload capacity %d", o.maxCTO, MaxPayload(o.mtu))
	}
	if o.mode == ModeQueue && o.queueDepth < 2 {
		return errors.Wrapf(ErrInvalidOption, "queue depth %d, need at least 2", o.queueDepth)
	}
	if o.mode != ModeQueue && o.mode != ModeSingleBuffer {
		return errors.Wrapf(ErrInvalidOption, "mode %d", o.mode)
	}
	if o.layout != CounterFirst && o.layout != LengthFirst {
		return errors.Wrapf(ErrInvalidOption, "frame layout %d", o.layout)
	}
	return nil
}

// ModeOption selects the transmit strategy. The default is ModeQueue.
func ModeOption(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// FrameLayoutOption selects the header field order. The default is CounterFirst.
func FrameLayoutOption(layout FrameLayout) Option {
	return func(o *options) {
		o.layout = layout
	}
}

// QueueDepthOption sets the number of packet buffers in the transmit queue.
// A queue of depth n holds at most n-1 datagrams waiting to be sent.
func QueueDepthOption(depth int) Option {
	return func(o *options) {
		o.queueDepth = depth
	}
}

// MTUOption sets the maximum size of one datagram payload.
func MTUOption(mtu int) Option {
	return func(o *options) {
		o.mtu = mtu
	}
}

// MaxCTOOption sets the maximum size of a command response packet.
func MaxCTOOption(size int) Option {
	return func(o *options) {
		o.maxCTO = size
	}
}

// ReceiveTimeoutOption sets how long a single receive step waits for a
// datagram before reporting that no data is available. A negative timeout
// waits without limit; Run interrupts the wait when its context is done.
func ReceiveTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.receiveTimeout = timeout
	}
}

// FlushIntervalOption sets how often Run seals and sends partially filled
// datagrams. It bounds the latency of low-rate measurement data.
func FlushIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.flushInterval = interval
	}
}

// SendBufferSizeOption sets the socket send buffer size used by Listen.
// A negative size keeps the operating system default.
func SendBufferSizeOption(size int) Option {
	return func(o *options) {
		o.sendBufferSize = size
	}
}

// AnySenderOption controls client address pinning. By default a connected
// server only accepts commands from the address that sent CONNECT; with
// enabled set to true, commands from every address are forwarded.
func AnySenderOption(enabled bool) Option {
	return func(o *options) {
		o.anySender = enabled
	}
}

// LoggerOption sets the logger. If not set, slog.Default() is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption sets the Prometheus collectors updated by the server.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
