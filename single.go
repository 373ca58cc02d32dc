package xcpudp

import "sync"

// singleBuffer is the non-queued transmit strategy. A reservation holds the
// transmit lock until it is committed, so producers are fully serialised and
// the datagram is sent synchronously whenever the next message would not fit.
type singleBuffer struct {
	mu      sync.Locker
	buf     packetBuffer
	counter uint16
	ready   bool

	layout  FrameLayout
	send    SendFunc
	metrics *Metrics
}

func newSingleBuffer(o *options, mu sync.Locker, send SendFunc) *singleBuffer {
	return &singleBuffer{
		mu:      mu,
		buf:     newPacketBuffer(o.mtu),
		layout:  o.layout,
		send:    send,
		metrics: o.metrics,
	}
}

// Reserve claims space and returns with the lock held. The lock is released
// by Commit, or before returning when Reserve fails.
func (s *singleBuffer) Reserve(size int) (*Reservation, error) {
	if size < 0 || size > MaxPayload(len(s.buf.data)) {
		return nil, ErrMessageTooLarge
	}

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if !s.buf.fits(size) {
		if err := s.sendLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	ctr := s.counter
	s.counter++
	s.buf.pending++
	s.metrics.dtoReserved()

	return &Reservation{
		Data:    s.buf.claim(s.layout, ctr, size),
		owner:   s,
		gen:     s.buf.gen,
		counter: ctr,
	}, nil
}

// Commit releases the lock taken by the matching Reserve.
func (s *singleBuffer) Commit(r *Reservation) error {
	if err := r.claimCommit(s); err != nil {
		return err
	}
	s.buf.pending--
	s.mu.Unlock()
	return nil
}

// sendLocked transmits the buffered datagram. The buffer is emptied even when
// the send fails.
func (s *singleBuffer) sendLocked() error {
	if s.buf.used == 0 {
		return nil
	}
	err := s.send(s.buf.bytes())
	s.buf.used = 0
	return err
}

// HandleTransmitQueue has nothing to do: full datagrams are sent by Reserve.
func (s *singleBuffer) HandleTransmitQueue() error {
	return nil
}

// Flush sends the partially filled datagram.
func (s *singleBuffer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked()
}

func (s *singleBuffer) Notify() <-chan struct{} {
	return nil
}

func (s *singleBuffer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.recycle()
	s.ready = true
}

func (s *singleBuffer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.recycle()
	s.ready = false
}
