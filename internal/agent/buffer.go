package agent

import "sync"

// TailBuffer is a thread-safe bounded byte buffer with suffix retention:
// once the cap is reached the oldest bytes are dropped first, so the buffer
// always holds the most recent output. Used for viewer replay.
type TailBuffer struct {
	mu   sync.RWMutex
	max  int
	data []byte
}

// NewTailBuffer creates a TailBuffer retaining at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

// Write appends p, discarding the oldest bytes beyond the cap.
// It never fails; the error is only present to satisfy io.Writer.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.max {
		b.data = append(b.data[:0], p[len(p)-b.max:]...)
		return len(p), nil
	}

	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.max; overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the retained bytes, oldest first.
func (b *TailBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.data...)
}

// Len returns the number of retained bytes.
func (b *TailBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Reset discards all retained bytes.
func (b *TailBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
