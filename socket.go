package xcpudp

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by the socket layer.
var (
	// ErrNoData is returned by PacketConn.Receive when no datagram arrived
	// within the receive timeout. It is not a failure.
	ErrNoData = errors.New("xcpudp: no data")
	// ErrConnectionClosed is returned when operating on a closed socket.
	ErrConnectionClosed = errors.New("xcpudp: connection closed")
)

// PacketConn is the datagram socket used by the server.
type PacketConn interface {
	// SendTo transmits b as one datagram to addr.
	SendTo(b []byte, addr *net.UDPAddr) error
	// Receive reads one datagram into b. It returns ErrNoData when nothing
	// arrived in time.
	Receive(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// IsTemporary reports whether err is a transient socket condition (timeout
// or would-block) after which the operation may simply be retried.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoData) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return isWouldBlock(err)
}

type udpConn struct {
	conn           *net.UDPConn
	receiveTimeout time.Duration
	closed         atomic.Bool
}

// ListenUDP opens an IPv4 UDP socket bound to address. SO_REUSEADDR is set
// and, if sendBufferSize is positive, SO_SNDBUF.
func ListenUDP(ctx context.Context, address string, receiveTimeout time.Duration, sendBufferSize int) (PacketConn, error) {
	lc := net.ListenConfig{Control: controlSocket(sendBufferSize)}
	pc, err := lc.ListenPacket(ctx, "udp4", address)
	if err != nil {
		return nil, errors.Wrapf(err, "xcpudp: listen on %s", address)
	}
	return NewUDPConn(pc.(*net.UDPConn), receiveTimeout), nil
}

// NewUDPConn wraps an already bound UDP socket. A zero receiveTimeout selects
// DefaultReceiveTimeout; a negative one makes Receive block until a datagram
// arrives, the socket is closed or the read deadline is moved.
func NewUDPConn(conn *net.UDPConn, receiveTimeout time.Duration) PacketConn {
	if receiveTimeout == 0 {
		receiveTimeout = DefaultReceiveTimeout
	}
	return &udpConn{conn: conn, receiveTimeout: receiveTimeout}
}

func (c *udpConn) SendTo(b []byte, addr *net.UDPAddr) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	n, err := c.conn.WriteToUDP(b, addr)
	if err != nil {
		return errors.Wrapf(err, "xcpudp: send to %s", addr)
	}
	if n != len(b) {
		return errors.Wrapf(io.ErrShortWrite, "xcpudp: send to %s: %d of %d bytes", addr, n, len(b))
	}
	return nil
}

func (c *udpConn) Receive(b []byte) (int, *net.UDPAddr, error) {
	if c.closed.Load() {
		return 0, nil, ErrConnectionClosed
	}
	if c.receiveTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))
	}

	n, addr, err := c.conn.ReadFromUDP(b)
	if err != nil {
		if c.closed.Load() {
			return 0, nil, ErrConnectionClosed
		}
		if IsTemporary(err) {
			return 0, nil, ErrNoData
		}
		return 0, nil, errors.Wrap(err, "xcpudp: receive")
	}
	return n, addr, nil
}

// SetReadDeadline interrupts or re-arms a blocking Receive.
func (c *udpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *udpConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the socket. Safe to call multiple times.
func (c *udpConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
