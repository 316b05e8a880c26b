package term

import "sync"

// HistoryLimit is the replay buffer capacity per session. 100 KiB is
// enough for a coherent first paint without holding full scrollback.
const HistoryLimit = 100 * 1024

// History is a bounded append-only byte buffer. When an append pushes the
// length past the capacity, the oldest bytes are discarded so that exactly
// the most recent cap bytes remain. Trimming happens at append time, not
// on read. A replay may therefore begin mid-escape sequence; terminal
// renderers resynchronize.
type History struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewHistory creates a history buffer with the given capacity in bytes.
func NewHistory(max int) *History {
	if max <= 0 {
		max = HistoryLimit
	}
	return &History{max: max}
}

// Append adds data to the buffer, discarding from the head when the
// capacity is exceeded.
func (h *History) Append(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(data) >= h.max {
		// The chunk alone fills the buffer; keep its tail.
		h.buf = append(h.buf[:0], data[len(data)-h.max:]...)
		return
	}

	h.buf = append(h.buf, data...)
	if len(h.buf) > h.max {
		// Copy into a fresh slice so the discarded head can be freed.
		trimmed := make([]byte, h.max)
		copy(trimmed, h.buf[len(h.buf)-h.max:])
		h.buf = trimmed
	}
}

// Bytes returns the current contents as one contiguous copy, oldest first.
func (h *History) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]byte, len(h.buf))
	copy(out, h.buf)
	return out
}

// Len returns the current buffer length.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buf)
}
