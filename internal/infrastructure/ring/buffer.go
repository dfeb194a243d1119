// ABOUTME: Bounded circular byte queue between socket reader and stream consumer
// ABOUTME: Writes block for space so no stream bytes are ever dropped
package ring

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("ring: buffer closed")

type Buffer struct {
	mu      sync.Mutex
	notFull *sync.Cond
	buf     []byte
	r       int // read position
	n       int // bytes stored
	closed  bool
}

func New(size int) *Buffer {
	b := &Buffer{buf: make([]byte, size)}
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Write copies all of p into the queue, waiting for the reader to make
// space when full. Returns ErrClosed once Close has been called.
func (b *Buffer) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(p) > 0 {
		for b.n == len(b.buf) && !b.closed {
			b.notFull.Wait()
		}
		if b.closed {
			return ErrClosed
		}

		chunk := len(p)
		if space := len(b.buf) - b.n; chunk > space {
			chunk = space
		}

		w := (b.r + b.n) % len(b.buf)
		right := len(b.buf) - w
		if right > chunk {
			right = chunk
		}

		copy(b.buf[w:w+right], p[:right])
		if right < chunk {
			copy(b.buf[0:chunk-right], p[right:chunk])
		}

		b.n += chunk
		p = p[chunk:]
	}

	return nil
}

// Read copies up to len(p) queued bytes into p without waiting. A 0 count
// means the queue is currently empty.
func (b *Buffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunk := len(p)
	if chunk > b.n {
		chunk = b.n
	}
	if chunk == 0 {
		return 0
	}

	right := len(b.buf) - b.r
	if right > chunk {
		right = chunk
	}

	copy(p[:right], b.buf[b.r:b.r+right])
	if right < chunk {
		copy(p[right:chunk], b.buf[:chunk-right])
	}

	b.r = (b.r + chunk) % len(b.buf)
	b.n -= chunk
	b.notFull.Broadcast()
	return chunk
}

// Len returns the number of bytes queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Close discards queued bytes and unblocks any waiting writer.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.n = 0
	b.notFull.Broadcast()
}
