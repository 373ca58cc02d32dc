package xcpudp

// packetBuffer is one outgoing datagram holding back-to-back framed messages.
//
// used only grows while the buffer is in use; it is cleared when the slot is
// recycled. pending counts reservations that have not been committed yet.
// gen changes every time the slot is recycled so that reservations issued
// against an earlier lifetime of the slot can be recognised.
type packetBuffer struct {
	data    []byte
	used    int
	pending int
	gen     uint32
}

func newPacketBuffer(mtu int) packetBuffer {
	return packetBuffer{data: make([]byte, mtu)}
}

// recycle prepares the buffer for a new lifetime.
func (b *packetBuffer) recycle() {
	b.used = 0
	b.pending = 0
	b.gen++
}

// fits reports whether a message with size payload bytes still fits.
func (b *packetBuffer) fits(size int) bool {
	return b.used+HeaderSize+size <= len(b.data)
}

// claim writes a header at the current end of the buffer and returns the
// payload slice that follows it. The slice capacity ends at the payload so a
// writer cannot spill into the next record.
func (b *packetBuffer) claim(layout FrameLayout, counter uint16, size int) []byte {
	off := b.used
	PutHeader(b.data[off:], layout, Header{Counter: counter, Length: uint16(size)})
	start := off + HeaderSize
	end := start + size
	b.used = end
	return b.data[start:end:end]
}

// bytes returns the datagram assembled so far.
func (b *packetBuffer) bytes() []byte {
	return b.data[:b.used]
}
