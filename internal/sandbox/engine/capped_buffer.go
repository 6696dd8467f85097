package engine

import (
	"bytes"
	"sync"
)

// cappedBuffer keeps at most limit bytes and silently drops the rest.
// Write always reports full success so the copying goroutine keeps draining
// the pipe and the child never blocks on a full pipe buffer.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
	onLimit   func()
}

func newCappedBuffer(limit int64, onLimit func()) *cappedBuffer {
	return &cappedBuffer{limit: limit, onLimit: onLimit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n := len(p)
	if b.limit <= 0 {
		b.buf.Write(p)
		b.mu.Unlock()
		return n, nil
	}
	remaining := b.limit - int64(b.buf.Len())
	hit := false
	switch {
	case remaining <= 0:
		hit = len(p) > 0
	case int64(len(p)) > remaining:
		b.buf.Write(p[:remaining])
		hit = true
	default:
		b.buf.Write(p)
	}
	if hit {
		b.truncated = true
	}
	b.mu.Unlock()

	if hit && b.onLimit != nil {
		b.onLimit()
	}
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
