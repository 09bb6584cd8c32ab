package audio

import (
	"math"
	"time"
)

// AnalyzerConfig holds configuration for the activity analyzer
type AnalyzerConfig struct {
	SampleRate      int     // input sample rate in Hz
	Stride          int     // sample stride for RMS computation (1 = every sample)
	MinThreshold    float64 // absolute minimum activation threshold (RMS)
	Multiplier      float64 // noise floor -> activation threshold multiplier
	AbsoluteSilence float64 // below this RMS the noise floor is not adapted
	FloorSmoothing  float64 // exponential smoothing factor for the noise floor
	ActiveFrames    int     // consecutive frames above threshold to flip active
	SilenceFrames   int     // consecutive frames below threshold to flip inactive
	PlaybackBoost   float64 // threshold multiplier while the system is speaking
	EchoSimilarity  float64 // cosine similarity above which a frame is presumed echo
	OnsetMute       time.Duration
	HistoryFrames   int // rolling envelope history size for the echo check
}

// DefaultAnalyzerConfig returns a configuration tuned for 16kHz 20ms frames.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate:      16000,
		Stride:          4,
		MinThreshold:    300.0,
		Multiplier:      1.8,
		AbsoluteSilence: 40.0,
		FloorSmoothing:  0.95,
		ActiveFrames:    3,
		SilenceFrames:   10,
		PlaybackBoost:   2.5,
		EchoSimilarity:  0.95,
		OnsetMute:       time.Second,
		HistoryFrames:   16,
	}
}

// Decision is the analyzer's verdict for a single frame.
type Decision struct {
	Active bool
	Volume float64
}

// ActivityAnalyzer turns raw audio frames into an "is sound happening" signal.
// It tracks an adaptive noise floor, debounces activation both ways, and while
// the system is emitting audio it applies a coarse self-echo filter: a raised
// threshold, an onset mute window, and an envelope-similarity check against
// recently analyzed frames. The similarity check is a heuristic, not acoustic
// echo cancellation; it will misfire in noisy or reverberant rooms.
type ActivityAnalyzer struct {
	cfg AnalyzerConfig

	noiseFloor float64
	activeRun  int
	silenceRun int
	active     bool

	playback      bool
	playbackSince time.Time

	history *EnvelopeHistory

	now func() time.Time
}

// NewActivityAnalyzer creates an analyzer with the given configuration.
// Zero-valued fields fall back to defaults.
func NewActivityAnalyzer(cfg AnalyzerConfig) *ActivityAnalyzer {
	def := DefaultAnalyzerConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Stride <= 0 {
		cfg.Stride = def.Stride
	}
	if cfg.MinThreshold == 0 {
		cfg.MinThreshold = def.MinThreshold
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.AbsoluteSilence == 0 {
		cfg.AbsoluteSilence = def.AbsoluteSilence
	}
	if cfg.FloorSmoothing == 0 {
		cfg.FloorSmoothing = def.FloorSmoothing
	}
	if cfg.ActiveFrames == 0 {
		cfg.ActiveFrames = def.ActiveFrames
	}
	if cfg.SilenceFrames == 0 {
		cfg.SilenceFrames = def.SilenceFrames
	}
	if cfg.PlaybackBoost == 0 {
		cfg.PlaybackBoost = def.PlaybackBoost
	}
	if cfg.EchoSimilarity == 0 {
		cfg.EchoSimilarity = def.EchoSimilarity
	}
	if cfg.OnsetMute == 0 {
		cfg.OnsetMute = def.OnsetMute
	}
	if cfg.HistoryFrames == 0 {
		cfg.HistoryFrames = def.HistoryFrames
	}

	return &ActivityAnalyzer{
		cfg:     cfg,
		history: NewEnvelopeHistory(cfg.HistoryFrames),
		now:     time.Now,
	}
}

// Process analyzes one frame and returns the current activity decision.
// It has no side effects beyond the analyzer's own state.
func (a *ActivityAnalyzer) Process(frame []int16) Decision {
	if len(frame) == 0 {
		return Decision{Active: a.active, Volume: 0}
	}

	rms := StrideRMS(frame, a.cfg.Stride)

	baseThreshold := a.cfg.MinThreshold
	if floorThreshold := a.noiseFloor * a.cfg.Multiplier; floorThreshold > baseThreshold {
		baseThreshold = floorThreshold
	}

	threshold := baseThreshold
	if a.playback {
		threshold *= a.cfg.PlaybackBoost
	}

	frameActive := rms >= threshold

	env := frameEnvelope(frame)

	if a.playback && frameActive {
		if a.now().Sub(a.playbackSince) < a.cfg.OnsetMute {
			// Playback onset: most self-triggering happens here, before any
			// adaptation has had a chance to occur.
			frameActive = false
		} else if a.echoLike(env) {
			frameActive = false
		}
	}

	a.history.Push(env)

	// Nudge the noise floor toward quiet-but-not-silent frames so a noisy
	// room does not permanently read as activity.
	if rms < baseThreshold && rms > a.cfg.AbsoluteSilence {
		a.noiseFloor = a.noiseFloor*a.cfg.FloorSmoothing + rms*(1-a.cfg.FloorSmoothing)
	}

	if frameActive {
		a.activeRun++
		a.silenceRun = 0
		if !a.active && a.activeRun >= a.cfg.ActiveFrames {
			a.active = true
		}
	} else {
		a.silenceRun++
		a.activeRun = 0
		if a.active && a.silenceRun >= a.cfg.SilenceFrames {
			a.active = false
		}
	}

	return Decision{Active: a.active, Volume: rms}
}

// echoLike reports whether the envelope closely matches any recently analyzed
// frame. Only meaningful while playback is active.
func (a *ActivityAnalyzer) echoLike(env Envelope) bool {
	for _, prev := range a.history.Recent(a.cfg.HistoryFrames) {
		if CosineSimilarity(env, prev) >= a.cfg.EchoSimilarity {
			return true
		}
	}
	return false
}

// SetPlaybackActive tells the analyzer whether the system is currently
// emitting audio. The transition to true starts the onset mute window.
func (a *ActivityAnalyzer) SetPlaybackActive(on bool) {
	if on && !a.playback {
		a.playbackSince = a.now()
	}
	a.playback = on
}

// IsActive returns the current debounced activity state.
func (a *ActivityAnalyzer) IsActive() bool {
	return a.active
}

// NoiseFloor returns the current adaptive noise floor estimate.
func (a *ActivityAnalyzer) NoiseFloor() float64 {
	return a.noiseFloor
}

// Reset clears all analyzer state.
func (a *ActivityAnalyzer) Reset() {
	a.noiseFloor = 0
	a.activeRun = 0
	a.silenceRun = 0
	a.active = false
	a.playback = false
	a.history.Clear()
}

// StrideRMS computes the RMS volume of a frame sampling every stride-th
// sample. A stride above 1 trades a little accuracy for less per-frame work.
func StrideRMS(samples []int16, stride int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if stride < 1 {
		stride = 1
	}

	var sum float64
	n := 0
	for i := 0; i < len(samples); i += stride {
		f := float64(samples[i])
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// envelopeSegments is the number of coarse energy bands per frame envelope.
const envelopeSegments = 8

// Envelope is a coarse per-segment energy shape of one frame, used for the
// echo similarity check.
type Envelope [envelopeSegments]float64

// frameEnvelope splits the frame into equal segments and computes per-segment
// RMS energy.
func frameEnvelope(frame []int16) Envelope {
	var env Envelope
	if len(frame) == 0 {
		return env
	}
	segLen := len(frame) / envelopeSegments
	if segLen == 0 {
		segLen = 1
	}
	for s := 0; s < envelopeSegments; s++ {
		start := s * segLen
		if start >= len(frame) {
			break
		}
		end := start + segLen
		if s == envelopeSegments-1 || end > len(frame) {
			end = len(frame)
		}
		var sum float64
		for _, v := range frame[start:end] {
			f := float64(v)
			sum += f * f
		}
		env[s] = math.Sqrt(sum / float64(end-start))
	}
	return env
}

// CosineSimilarity returns the cosine similarity of two envelopes, in [0, 1]
// for non-negative energy vectors. Zero vectors compare as dissimilar.
func CosineSimilarity(a, b Envelope) float64 {
	var dot, na, nb float64
	for i := 0; i < envelopeSegments; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
