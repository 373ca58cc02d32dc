package xcpudp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the XCP on UDP message header (counter + length).
const HeaderSize = 4

// CmdConnect is the XCP CONNECT command code.
const CmdConnect = 0xFF

// maxUDPPayload is the largest payload a single IPv4 UDP datagram can carry.
const maxUDPPayload = 65507

// Errors returned by framing operations.
var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("xcpudp: short message header")
	// ErrTruncatedPayload is returned when the header announces more payload than is available.
	ErrTruncatedPayload = errors.New("xcpudp: truncated message payload")
	// ErrMessageTooLarge is returned when a message does not fit into one datagram.
	ErrMessageTooLarge = errors.New("xcpudp: message too large")
)

// FrameLayout selects the field order of the message header on the wire.
type FrameLayout int

const (
	// CounterFirst encodes the header as counter, length.
	CounterFirst FrameLayout = iota
	// LengthFirst encodes the header as length, counter.
	LengthFirst
)

func (l FrameLayout) String() string {
	switch l {
	case CounterFirst:
		return "counter-first"
	case LengthFirst:
		return "length-first"
	default:
		return "unknown"
	}
}

func (l FrameLayout) offsets() (counter, length int) {
	if l == LengthFirst {
		return 2, 0
	}
	return 0, 2
}

// Header is the header preceding every XCP message in a datagram.
// Both fields are little-endian on the wire.
type Header struct {
	Counter uint16
	Length  uint16
}

// PutHeader writes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, layout FrameLayout, h Header) {
	co, lo := layout.offsets()
	binary.LittleEndian.PutUint16(b[co:co+2], h.Counter)
	binary.LittleEndian.PutUint16(b[lo:lo+2], h.Length)
}

// ParseHeader reads a header from the start of b.
func ParseHeader(b []byte, layout FrameLayout) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	co, lo := layout.offsets()
	return Header{
		Counter: binary.LittleEndian.Uint16(b[co : co+2]),
		Length:  binary.LittleEndian.Uint16(b[lo : lo+2]),
	}, nil
}

// MaxPayload returns the largest message payload that fits into a datagram of mtu bytes.
func MaxPayload(mtu int) int {
	return mtu - HeaderSize
}

// EncodeMessage returns header+payload as a newly allocated record.
func EncodeMessage(layout FrameLayout, counter uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload(maxUDPPayload) {
		return nil, ErrMessageTooLarge
	}
	b := make([]byte, HeaderSize+len(payload))
	PutHeader(b, layout, Header{Counter: counter, Length: uint16(len(payload))})
	copy(b[HeaderSize:], payload)
	return b, nil
}

// DecodeMessage splits the first record off b.
// The returned payload aliases b; rest holds the bytes following the record.
func DecodeMessage(b []byte, layout FrameLayout) (h Header, payload, rest []byte, err error) {
	h, err = ParseHeader(b, layout)
	if err != nil {
		return Header{}, nil, b, err
	}
	end := HeaderSize + int(h.Length)
	if end > len(b) {
		return h, b[HeaderSize:], nil, ErrTruncatedPayload
	}
	return h, b[HeaderSize:end:end], b[end:], nil
}

// IsConnect reports whether payload is a well formed CONNECT command.
func IsConnect(payload []byte) bool {
	return len(payload) == 2 && payload[0] == CmdConnect
}
