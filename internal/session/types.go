package session

import (
	"time"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
)

// Phase is the session's conversational phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseThinking
	PhaseSpeaking
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseThinking:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Timing holds the engine's delay and guard configuration.
type Timing struct {
	IdleGrace          time.Duration // IDLE -> LISTENING delay
	SpeakingGuard      time.Duration // minimum time in SPEAKING before barge-in is honored
	PostSpeechCooldown time.Duration // delay before re-listening after playback completes
	RestartDelay       time.Duration // recognition restart delay
	InterruptMinChars  int           // minimum captured text length for barge-in
	ResponderTimeout   time.Duration // per-request responder deadline
}

// TimingFromConfig derives engine timing from service configuration.
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		IdleGrace:          time.Duration(cfg.IdleGraceMs) * time.Millisecond,
		SpeakingGuard:      time.Duration(cfg.SpeakingGuardMs) * time.Millisecond,
		PostSpeechCooldown: time.Duration(cfg.PostSpeechCooldownMs) * time.Millisecond,
		RestartDelay:       time.Duration(cfg.RestartDelayMs) * time.Millisecond,
		InterruptMinChars:  cfg.InterruptMinChars,
		ResponderTimeout:   time.Duration(cfg.ResponderTimeout) * time.Second,
	}
}

// Notifier receives session events for the host surface. Implementations must
// not call back into the engine synchronously from these callbacks.
type Notifier interface {
	OnPhaseChange(from, to Phase)
	OnTranscript(text string, isFinal bool)
	OnAssistantText(chunk string)
	OnConversationPaused()
	OnError(message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OnPhaseChange(from, to Phase)          {}
func (NopNotifier) OnTranscript(text string, final bool)  {}
func (NopNotifier) OnAssistantText(chunk string)          {}
func (NopNotifier) OnConversationPaused()                 {}
func (NopNotifier) OnError(message string)                {}

// Player is the playback surface the engine drives. Playback completion must
// be reported asynchronously through Engine.HandlePlaybackDone.
type Player interface {
	Play(text string) *playback.Handle
	CancelCurrent()
}

type timerKind int

const (
	timerGrace timerKind = iota
	timerCooldown
	timerSilence
	timerRestart
	timerAutoStop
)

// event is the tagged union every external callback is funneled through.
type event interface{ isEvent() }

type evStart struct{}
type evStop struct{}
type evText struct{ text string }
type evFragment struct {
	text       string
	confidence float64
	isFinal    bool
}
type evRecognitionEnded struct{ err error }
type evTimer struct {
	kind timerKind
	gen  uint64
}
type evResponderDone struct {
	gen   uint64
	reply string
	err   error
}
type evPlaybackDone struct {
	state playback.HandleState
	err   error
}

func (evStart) isEvent()            {}
func (evStop) isEvent()             {}
func (evText) isEvent()             {}
func (evFragment) isEvent()         {}
func (evRecognitionEnded) isEvent() {}
func (evTimer) isEvent()            {}
func (evResponderDone) isEvent()    {}
func (evPlaybackDone) isEvent()     {}
