package protocol

import (
	"errors"
	"sync/atomic"
)

// ErrLineTooLong is returned when the queue filled up without a line terminator.
// The partial line has been discarded.
var ErrLineTooLong = errors.New("line exceeds receive buffer")

// LineQueue is a single-producer/single-consumer byte ring that hands out
// complete newline-terminated lines.
//
// The receive path (UART goroutine or interrupt) is the only producer and
// only calls Push/Write. The control loop is the only consumer and only
// calls NextLine/Discard. Each side owns one index and publishes it with an
// atomic store, so neither side ever observes a half-updated buffer.
type LineQueue struct {
	buf  []byte
	size uint32

	read    atomic.Uint32 // owned by the consumer
	write   atomic.Uint32 // owned by the producer
	dropped atomic.Uint32 // bytes lost because the ring was full

	// Consumer only: the head of an over-long line was discarded and the
	// rest of it is skipped up to its terminator
	skipping bool
}

// NewLineQueue creates a LineQueue with the specified capacity.
// One slot stays empty to tell full from empty, so capacity-1 bytes fit.
func NewLineQueue(capacity int) *LineQueue {
	if capacity < 2 {
		capacity = 2
	}
	return &LineQueue{
		buf:  make([]byte, capacity),
		size: uint32(capacity),
	}
}

// Push appends one received byte. Producer side only.
// Returns false (and counts the byte as dropped) when the ring is full.
func (q *LineQueue) Push(b byte) bool {
	w := q.write.Load()
	next := (w + 1) % q.size
	if next == q.read.Load() {
		q.dropped.Add(1)
		return false
	}
	q.buf[w] = b
	q.write.Store(next)
	return true
}

// Write appends received bytes. Producer side only.
// Bytes that do not fit are dropped and counted; Write never fails, the
// same way a UART FIFO never pushes back on the sender.
func (q *LineQueue) Write(data []byte) (int, error) {
	for _, b := range data {
		q.Push(b)
	}
	return len(data), nil
}

// Available returns the number of bytes waiting to be consumed
func (q *LineQueue) Available() int {
	w := q.write.Load()
	r := q.read.Load()
	if w >= r {
		return int(w - r)
	}
	return int(q.size - r + w)
}

// Free returns the number of bytes that can still be pushed
func (q *LineQueue) Free() int {
	return int(q.size) - q.Available() - 1
}

// Dropped returns the total number of bytes lost to a full ring
func (q *LineQueue) Dropped() uint32 {
	return q.dropped.Load()
}

// NextLine removes the oldest complete line (terminator included) and
// appends it to dst[:0]. Consumer side only.
//
// When no complete line is buffered it returns (nil, nil) and leaves the
// partial line in place. When the ring is full and holds no terminator the
// partial line can never complete: it is discarded and ErrLineTooLong is
// returned so the caller can answer it. The rest of that line, up to and
// including its terminator, is dropped as it arrives.
func (q *LineQueue) NextLine(dst []byte) ([]byte, error) {
	r := q.read.Load()
	w := q.write.Load()

	if q.skipping {
		for r != w && q.buf[r] != LineTerminal {
			r = (r + 1) % q.size
		}
		if r == w {
			q.read.Store(r)
			return nil, nil
		}
		r = (r + 1) % q.size
		q.read.Store(r)
		q.skipping = false
	}

	for i := r; i != w; i = (i + 1) % q.size {
		if q.buf[i] != LineTerminal {
			continue
		}
		end := (i + 1) % q.size
		line := dst[:0]
		for j := r; j != end; j = (j + 1) % q.size {
			line = append(line, q.buf[j])
		}
		q.read.Store(end)
		return line, nil
	}

	if (w+1)%q.size == r {
		q.read.Store(w)
		q.skipping = true
		return nil, ErrLineTooLong
	}
	return nil, nil
}

// Discard drops everything currently buffered. Consumer side only.
func (q *LineQueue) Discard() {
	q.read.Store(q.write.Load())
}

// IsEmpty returns true if the buffer is empty
func (q *LineQueue) IsEmpty() bool {
	return q.read.Load() == q.write.Load()
}
