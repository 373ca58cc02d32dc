package xcpudp

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Errors returned by the reserve/commit protocol.
var (
	// ErrQueueFull is returned by Reserve when every packet buffer of the
	// transmit queue is in use. It signals backpressure: the caller must drop
	// the sample instead of waiting for space.
	ErrQueueFull = errors.New("xcpudp: transmit queue full")
	// ErrNotConnected is returned when no client is connected and therefore
	// no transmit queue exists.
	ErrNotConnected = errors.New("xcpudp: not connected")
	// ErrInvalidReservation is returned when Commit gets a reservation that
	// was not issued by the transmitter it is committed to.
	ErrInvalidReservation = errors.New("xcpudp: invalid reservation")
	// ErrAlreadyCommitted is returned when a reservation is committed twice.
	ErrAlreadyCommitted = errors.New("xcpudp: reservation already committed")
	// ErrStaleReservation is returned when the transmit queue was reset or
	// torn down between Reserve and Commit. The written data is discarded.
	ErrStaleReservation = errors.New("xcpudp: stale reservation")
)

// Reservation is the handle for space claimed in a packet buffer.
//
// Data is the payload region; it must be filled before Commit is called and
// must not be touched afterwards. Every successful Reserve must be followed by
// exactly one Commit: a reservation that is never committed keeps its packet
// buffer, and every buffer queued behind it, from being sent.
type Reservation struct {
	Data []byte

	owner     Transmitter
	slot      int
	gen       uint32
	counter   uint16
	committed atomic.Bool
}

// Counter returns the message counter written into the header of this message.
func (r *Reservation) Counter() uint16 {
	return r.counter
}

// Commit releases the reservation to the transmitter that issued it.
func (r *Reservation) Commit() error {
	if r == nil || r.owner == nil {
		return ErrInvalidReservation
	}
	return r.owner.Commit(r)
}

// claimCommit marks r as committed. It fails if r does not belong to owner or
// has been committed before.
func (r *Reservation) claimCommit(owner Transmitter) error {
	if r == nil || r.owner != owner {
		return ErrInvalidReservation
	}
	if r.committed.Swap(true) {
		return ErrAlreadyCommitted
	}
	return nil
}

// Mode selects the transmit strategy.
type Mode int

const (
	// ModeQueue multiplexes producers into a ring of packet buffers that a
	// single drain loop sends.
	ModeQueue Mode = iota
	// ModeSingleBuffer uses one shared buffer. Reserve holds the transmit
	// lock until Commit, and the buffer is sent synchronously when it is full.
	// Suitable when only one producer goroutine exists.
	ModeSingleBuffer
)

func (m Mode) String() string {
	switch m {
	case ModeQueue:
		return "queue"
	case ModeSingleBuffer:
		return "single-buffer"
	default:
		return "unknown"
	}
}

// SendFunc transmits one datagram.
type SendFunc func(datagram []byte) error

// Transmitter is implemented by the transmit strategies.
// All implementations follow the same reserve/commit contract.
type Transmitter interface {
	// Reserve claims space for a message with size payload bytes.
	Reserve(size int) (*Reservation, error)
	// Commit marks the payload of r as written.
	Commit(r *Reservation) error
	// HandleTransmitQueue sends every completed and fully committed datagram.
	HandleTransmitQueue() error
	// Flush seals partially filled data and sends everything committed.
	Flush() error
	// Notify fires when new data became ready to send. It may be nil.
	Notify() <-chan struct{}
	// Reset discards all buffered data and makes the transmitter ready.
	Reset()
	// Close discards all buffered data; Reserve fails until the next Reset.
	Close()
}

func newTransmitter(o *options, mu sync.Locker, send SendFunc) Transmitter {
	if o.mode == ModeSingleBuffer {
		return newSingleBuffer(o, mu, send)
	}
	return newQueue(o, mu, send)
}
