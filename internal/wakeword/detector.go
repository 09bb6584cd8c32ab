package wakeword

import (
	"math"
	"strings"
	"sync"
)

// Sensitivity controls how strict the confidence requirement is.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"    // strict: fewer false activations
	SensitivityMedium Sensitivity = "medium" // default
	SensitivityHigh   Sensitivity = "high"   // loose: easier to trigger
)

// Confidence thresholds per sensitivity. Lower sensitivity demands a higher
// confidence score before an activation is accepted.
const (
	thresholdLow    = 0.8
	thresholdMedium = 0.6
	thresholdHigh   = 0.4

	// defaultConfidence stands in for transcription sources that do not
	// supply confidence scores at all. Treated as passing at medium
	// sensitivity; this is a documented fallback, not a silent failure.
	defaultConfidence = 0.7
)

// Candidate describes one accepted activation.
type Candidate struct {
	MatchedPhrase    string
	Confidence       float64
	SourceTranscript string
}

// Detector recognizes a configured activation phrase in finalized transcript
// fragments. After a successful activation it disarms itself and must be
// explicitly rearmed, which prevents double-firing on the same utterance.
type Detector struct {
	mu        sync.Mutex
	phrase    string
	threshold float64
	armed     bool
}

// New creates an armed detector for the given phrase and sensitivity.
func New(phrase string, sensitivity Sensitivity) *Detector {
	return &Detector{
		phrase:    strings.ToLower(strings.TrimSpace(phrase)),
		threshold: thresholdFor(sensitivity),
		armed:     true,
	}
}

func thresholdFor(s Sensitivity) float64 {
	switch s {
	case SensitivityLow:
		return thresholdLow
	case SensitivityHigh:
		return thresholdHigh
	default:
		return thresholdMedium
	}
}

// Evaluate checks one transcript fragment. Only finalized fragments are
// considered. Pass a negative confidence (or NaN) when the transcription
// source did not supply one. Returns a non-nil Candidate exactly once per
// arming cycle.
func (d *Detector) Evaluate(transcript string, confidence float64, isFinal bool) *Candidate {
	if !isFinal {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed || d.phrase == "" {
		return nil
	}

	if math.IsNaN(confidence) || confidence < 0 {
		confidence = defaultConfidence
	}
	if confidence < d.threshold {
		return nil
	}

	normalized := strings.ToLower(transcript)
	if !strings.Contains(normalized, d.phrase) {
		return nil
	}

	d.armed = false
	return &Candidate{
		MatchedPhrase:    d.phrase,
		Confidence:       confidence,
		SourceTranscript: transcript,
	}
}

// Rearm makes the detector eligible to fire again.
func (d *Detector) Rearm() {
	d.mu.Lock()
	d.armed = true
	d.mu.Unlock()
}

// Armed reports whether the detector can currently fire.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// SetPhrase updates the activation phrase.
func (d *Detector) SetPhrase(phrase string) {
	d.mu.Lock()
	d.phrase = strings.ToLower(strings.TrimSpace(phrase))
	d.mu.Unlock()
}

// SetSensitivity updates the confidence threshold.
func (d *Detector) SetSensitivity(s Sensitivity) {
	d.mu.Lock()
	d.threshold = thresholdFor(s)
	d.mu.Unlock()
}
