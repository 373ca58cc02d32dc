package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/xcpudp"
)

// demoHeaderSize is the ODT number, DAQ list number and a 32 bit timestamp.
const demoHeaderSize = 6

// dtoWriter is the producer side of the transport.
type dtoWriter interface {
	Reserve(size int) (*xcpudp.Reservation, error)
	Commit(r *xcpudp.Reservation) error
}

// produce emits one synthetic DTO per interval until ctx is done. Samples that
// find the queue full or no client connected are dropped.
func produce(ctx context.Context, w dtoWriter, daq byte, cfg DemoConfig) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		r, err := w.Reserve(cfg.Size)
		if errors.Is(err, xcpudp.ErrQueueFull) || errors.Is(err, xcpudp.ErrNotConnected) {
			continue
		}
		if err != nil {
			return err
		}
		fillDTO(r.Data, daq, uint32(time.Since(start).Microseconds()), seq)
		if err := w.Commit(r); err != nil && !errors.Is(err, xcpudp.ErrStaleReservation) {
			return err
		}
		seq++
	}
}

// fillDTO writes ODT 0 of the given DAQ list: timestamp followed by a running
// sample counter, repeated to fill the payload.
func fillDTO(b []byte, daq byte, timestamp, seq uint32) {
	b[0] = 0
	b[1] = daq
	binary.LittleEndian.PutUint32(b[2:6], timestamp)
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], seq)
	for i := demoHeaderSize; i < len(b); i++ {
		b[i] = word[(i-demoHeaderSize)%4]
	}
}
