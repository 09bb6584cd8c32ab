package audio

import "sync"

// EnvelopeHistory is a fixed-capacity ring of recent frame envelopes.
type EnvelopeHistory struct {
	mu    sync.Mutex
	buf   []Envelope
	cap   int
	write int
	count int
}

// NewEnvelopeHistory creates a history holding up to capacity envelopes.
func NewEnvelopeHistory(capacity int) *EnvelopeHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &EnvelopeHistory{
		buf: make([]Envelope, capacity),
		cap: capacity,
	}
}

// Push appends an envelope, evicting the oldest when full.
func (h *EnvelopeHistory) Push(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.write] = env
	h.write = (h.write + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
}

// Recent returns up to n most recent envelopes, newest last.
func (h *EnvelopeHistory) Recent(n int) []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.count {
		n = h.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]Envelope, n)
	start := (h.write - n + h.cap) % h.cap
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%h.cap]
	}
	return out
}

// Len returns the number of stored envelopes.
func (h *EnvelopeHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Clear discards all stored envelopes.
func (h *EnvelopeHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.write = 0
	h.count = 0
}
