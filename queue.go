package xcpudp

import "sync"

// queue is the DTO transmit queue: a ring of packet buffers filled by any
// number of producers and emptied by a single drain loop.
//
// The occupied range starts at readIndex and spans length slots. The newest
// slot of that range is the tail, the only buffer producers reserve into.
// tail is -1 before Reset, after Close and while the ring is full.
type queue struct {
	mu      sync.Locker // guards everything below, shared with the CRM path
	drainMu sync.Mutex  // serialises drains against Reset and Close

	buffers   []packetBuffer
	readIndex int
	length    int
	tail      int
	counter   uint16
	ready     bool

	mtu     int
	layout  FrameLayout
	send    SendFunc
	notify  chan struct{}
	metrics *Metrics
}

func newQueue(o *options, mu sync.Locker, send SendFunc) *queue {
	q := &queue{
		mu:      mu,
		buffers: make([]packetBuffer, o.queueDepth),
		tail:    -1,
		mtu:     o.mtu,
		layout:  o.layout,
		send:    send,
		notify:  make(chan struct{}, 1),
		metrics: o.metrics,
	}
	for i := range q.buffers {
		q.buffers[i] = newPacketBuffer(o.mtu)
	}
	return q
}

// advanceTailLocked seals the current tail and starts a new one in the next
// free slot. If the ring is full there is no tail afterwards.
func (q *queue) advanceTailLocked() {
	if q.length >= len(q.buffers) {
		q.tail = -1
		return
	}
	i := (q.readIndex + q.length) % len(q.buffers)
	q.buffers[i].recycle()
	q.tail = i
	q.length++
	q.metrics.setQueueLength(q.length)
	if q.length > 1 {
		q.signal()
	}
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Reserve claims space for a message of size payload bytes in the tail
// buffer, starting a new tail when the message does not fit.
func (q *queue) Reserve(size int) (*Reservation, error) {
	if size < 0 || size > MaxPayload(q.mtu) {
		return nil, ErrMessageTooLarge
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return nil, ErrNotConnected
	}
	if q.tail < 0 || !q.buffers[q.tail].fits(size) {
		q.advanceTailLocked()
	}
	if q.tail < 0 {
		q.metrics.dtoOverflow()
		return nil, ErrQueueFull
	}

	b := &q.buffers[q.tail]
	ctr := q.counter
	q.counter++
	b.pending++
	q.metrics.dtoReserved()

	return &Reservation{
		Data:    b.claim(q.layout, ctr, size),
		owner:   q,
		slot:    q.tail,
		gen:     b.gen,
		counter: ctr,
	}, nil
}

// Commit releases a reservation. Once every reservation of a sealed buffer
// has been committed the buffer becomes eligible for sending.
func (q *queue) Commit(r *Reservation) error {
	if err := r.claimCommit(q); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b := &q.buffers[r.slot]
	if b.gen != r.gen || b.pending == 0 {
		return ErrStaleReservation
	}
	b.pending--
	if b.pending == 0 && r.slot != q.tail {
		q.signal()
	}
	return nil
}

// headLocked returns the oldest buffer if it may be sent: it is not the tail
// and nobody is still writing into it.
func (q *queue) headLocked() *packetBuffer {
	if q.length == 0 || q.readIndex == q.tail {
		return nil
	}
	b := &q.buffers[q.readIndex]
	if b.pending > 0 {
		return nil
	}
	return b
}

// HandleTransmitQueue sends every sealed and fully committed buffer in FIFO
// order. The datagram is sent without holding the lock. A send error leaves
// the buffer at the head of the queue and is returned.
func (q *queue) HandleTransmitQueue() error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	for {
		q.mu.Lock()
		b := q.headLocked()
		var datagram []byte
		if b != nil {
			datagram = b.bytes()
		}
		q.mu.Unlock()

		if b == nil {
			return nil
		}
		if err := q.send(datagram); err != nil {
			return err
		}

		q.mu.Lock()
		q.readIndex = (q.readIndex + 1) % len(q.buffers)
		q.length--
		q.metrics.setQueueLength(q.length)
		q.mu.Unlock()
	}
}

// Flush seals a non-empty tail and drains the queue.
func (q *queue) Flush() error {
	q.mu.Lock()
	if q.tail >= 0 && q.buffers[q.tail].used > 0 {
		q.advanceTailLocked()
	}
	q.mu.Unlock()

	return q.HandleTransmitQueue()
}

func (q *queue) Notify() <-chan struct{} {
	return q.notify
}

// Reset discards all buffers and allocates a fresh tail.
// The message counter keeps running across resets.
func (q *queue) Reset() {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearLocked()
	q.ready = true
	q.advanceTailLocked()
}

// Close discards all buffers; reservations fail with ErrNotConnected until
// the next Reset.
func (q *queue) Close() {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearLocked()
	q.ready = false
}

// clearLocked empties the ring. A slot that still has writers gets new
// storage so their late writes land in memory that is never sent again.
func (q *queue) clearLocked() {
	for i := range q.buffers {
		if q.buffers[i].pending > 0 {
			q.buffers[i].data = make([]byte, q.mtu)
		}
		q.buffers[i].recycle()
	}
	q.readIndex = 0
	q.length = 0
	q.tail = -1
	q.metrics.setQueueLength(0)
}
