package transcript

import (
	"strings"
	"sync"
	"time"
)

// Utterance is a finalized piece of user speech. It is consumed once by the
// session and then discarded; nothing here is persisted.
type Utterance struct {
	Text                  string
	IsFinal               bool
	CapturedAt            time.Time
	TriggeredInterruption bool
}

// Aggregator buffers interim transcript fragments and emits a completed
// Utterance only when the transcription source marks a fragment final.
// Interim text is kept for display and for interruption evidence, never
// forwarded as an utterance.
type Aggregator struct {
	mu      sync.Mutex
	pending string
	now     func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// OnFragment consumes one fragment. It returns a non-nil Utterance when a
// non-empty finalized fragment arrives; otherwise nil. The buffer resets
// after each emission.
func (a *Aggregator) OnFragment(text string, isFinal bool) *Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !isFinal {
		a.pending = text
		return nil
	}

	a.pending = ""

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		// Whitespace-only finals are recognizer noise, not speech.
		return nil
	}

	return &Utterance{
		Text:       trimmed,
		IsFinal:    true,
		CapturedAt: a.now(),
	}
}

// Pending returns the latest interim fragment since the last emission or
// reset.
func (a *Aggregator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Reset discards any buffered interim text. Called on explicit stop.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.pending = ""
	a.mu.Unlock()
}
