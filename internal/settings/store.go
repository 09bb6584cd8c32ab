package settings

import (
	"sync"

	"github.com/voiceloop-ai/voiceloop/internal/config"
)

// Snapshot is a consistent copy of the conversation settings at one point in
// time. The session re-reads a snapshot at the start of relevant operations
// rather than caching one for its whole lifetime, so writes to the store take
// effect on the next turn.
type Snapshot struct {
	RecognitionEnabled   bool
	ContinuousListening  bool
	AutoStopAfterSilence bool
	SilenceThresholdSec  float64
	WakeWord             string
	WakeWordEnabled      bool
	WakeWordSensitivity  string
	ConversationalMode   bool
	ConversationTimeout  float64
	SynthesisEnabled     bool
	AutoReadResponses    bool
}

// Store is the settings provider the session reads from and hosts write to.
type Store interface {
	Snapshot() Snapshot
	Update(func(*Snapshot))
}

// MemoryStore is an in-memory Store. One instance is typically shared between
// a session and whatever host surface exposes settings changes to the client.
type MemoryStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewMemoryStore creates a store seeded with the given snapshot.
func NewMemoryStore(initial Snapshot) *MemoryStore {
	return &MemoryStore{snap: initial}
}

// FromConfig seeds a store from service configuration defaults.
func FromConfig(cfg *config.Config) *MemoryStore {
	return NewMemoryStore(Snapshot{
		RecognitionEnabled:   cfg.RecognitionEnabled,
		ContinuousListening:  cfg.ContinuousListening,
		AutoStopAfterSilence: cfg.AutoStopAfterSilence,
		SilenceThresholdSec:  cfg.SilenceThresholdSec,
		WakeWord:             cfg.WakeWord,
		WakeWordEnabled:      cfg.WakeWordEnabled,
		WakeWordSensitivity:  cfg.WakeWordSensitivity,
		ConversationalMode:   cfg.ConversationalMode,
		ConversationTimeout:  cfg.ConversationTimeout,
		SynthesisEnabled:     cfg.SynthesisEnabled,
		AutoReadResponses:    cfg.AutoReadResponses,
	})
}

// Snapshot returns a copy of the current settings.
func (s *MemoryStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update applies a mutation under the store lock.
func (s *MemoryStore) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}
