package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/audio"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
	"github.com/voiceloop-ai/voiceloop/internal/responder"
	"github.com/voiceloop-ai/voiceloop/internal/settings"
	"github.com/voiceloop-ai/voiceloop/internal/stt"
	"github.com/voiceloop-ai/voiceloop/internal/transcript"
	"github.com/voiceloop-ai/voiceloop/internal/wakeword"
)

const apologyText = "Sorry, I'm having trouble responding right now. Could you try again?"

// Deps are the collaborators one engine drives.
type Deps struct {
	SessionID string
	Settings  settings.Store
	Source    stt.Source
	Responder responder.Responder
	Analyzer  *audio.ActivityAnalyzer
	Notifier  Notifier
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Timing    Timing
}

// Engine is the turn-taking state machine for one conversation. Every
// external callback (recognition results, playback completion, timers) is
// converted into an event and funneled through a single serialized dispatch,
// so transitions can never interleave.
type Engine struct {
	id       string
	settings settings.Store
	source   stt.Source
	resp     responder.Responder
	analyzer *audio.ActivityAnalyzer
	notifier Notifier
	logger   zerolog.Logger
	metrics  *observability.Metrics
	timing   Timing

	mu     sync.Mutex
	player Player

	phase              Phase
	conversationActive bool
	stopped            bool
	recognizing        bool
	lastActivity       time.Time
	speakingSince      time.Time
	restartAttempted   bool

	wake *wakeword.Detector
	agg  *transcript.Aggregator

	// Generation counters make stray timer fires and stale responder
	// replies guaranteed no-ops. Arming bumps the counter and captures it;
	// a fired event with a mismatched generation is ignored.
	graceGen    uint64
	cooldownGen uint64
	silenceGen  uint64
	restartGen  uint64
	autoStopGen uint64
	respGen     uint64

	pumpOnce sync.Once
	done     chan struct{}

	now func() time.Time
}

// NewEngine creates a turn-taking engine in the idle phase. Call
// AttachPlayer before Start.
func NewEngine(deps Deps) *Engine {
	if deps.SessionID == "" {
		deps.SessionID = uuid.New().String()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewSessionMetrics(deps.SessionID)
	}

	snap := deps.Settings.Snapshot()
	return &Engine{
		id:                 deps.SessionID,
		settings:           deps.Settings,
		source:             deps.Source,
		resp:               deps.Responder,
		analyzer:           deps.Analyzer,
		notifier:           deps.Notifier,
		logger:             deps.Logger.With().Str("session_id", deps.SessionID).Logger(),
		metrics:            deps.Metrics,
		timing:             deps.Timing,
		phase:              PhaseIdle,
		conversationActive: true,
		wake:               wakeword.New(snap.WakeWord, wakeword.Sensitivity(snap.WakeWordSensitivity)),
		agg:                transcript.NewAggregator(),
		done:               make(chan struct{}),
		now:                time.Now,
	}
}

// AttachPlayer wires the playback surface. The playback controller needs the
// engine's HandlePlaybackDone as its completion callback, so the two are
// constructed in sequence and joined here.
func (e *Engine) AttachPlayer(p Player) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.player = p
}

// ID returns the session identifier.
func (e *Engine) ID() string { return e.id }

// Phase returns the current conversational phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// ConversationActive reports whether the conversation is live, as opposed to
// paused by the silence timeout.
func (e *Engine) ConversationActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationActive
}

// Start begins the conversation loop. The engine rests in IDLE for a short
// grace delay, then begins listening.
func (e *Engine) Start() {
	e.pumpOnce.Do(func() { go e.pump() })
	e.dispatch(evStart{})
}

// Stop halts the conversation: it cancels any in-flight playback and
// responder call, stops recognition, and disarms every timer. The engine
// rests in IDLE and can be started again.
func (e *Engine) Stop() {
	e.dispatch(evStop{})
}

// Close stops the engine and releases the recognition source. The engine
// cannot be restarted afterwards.
func (e *Engine) Close() error {
	e.Stop()
	close(e.done)
	return e.source.Close()
}

// HandlePlaybackDone is the playback controller's completion callback.
func (e *Engine) HandlePlaybackDone(h *playback.Handle, state playback.HandleState, err error) {
	e.dispatch(evPlaybackDone{state: state, err: err})
}

// ProcessAudio feeds one chunk of little-endian PCM16 audio through the
// activity analyzer and on to the recognizer.
func (e *Engine) ProcessAudio(pcm []byte) error {
	samples, err := audio.BytesToInt16(pcm)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	decision := e.analyzer.Process(samples)
	forward := e.recognizing
	if decision.Active {
		e.lastActivity = e.now()
	}
	e.mu.Unlock()

	e.metrics.RecordAudioBytes("in", int64(len(pcm)))

	if forward {
		if serr := e.source.SendAudio(pcm); serr != nil {
			e.logger.Warn().Err(serr).Msg("Failed to forward audio to recognizer")
		}
	}
	return nil
}

// pump converts recognition stream output into dispatched events.
func (e *Engine) pump() {
	for {
		select {
		case <-e.done:
			return
		case frag, ok := <-e.source.Fragments():
			if !ok {
				return
			}
			e.dispatch(evFragment{text: frag.Text, confidence: frag.Confidence, isFinal: frag.IsFinal})
		case err := <-e.source.Ended():
			e.dispatch(evRecognitionEnded{err: err})
		}
	}
}

// dispatch is the single serialized entry point for every event.
func (e *Engine) dispatch(ev event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case evStart:
		e.handleStart()
	case evStop:
		e.handleStop()
	case evText:
		e.handleText(ev.text)
	case evFragment:
		e.handleFragment(ev)
	case evRecognitionEnded:
		e.handleRecognitionEnded(ev.err)
	case evTimer:
		e.handleTimer(ev)
	case evResponderDone:
		e.handleResponderDone(ev)
	case evPlaybackDone:
		e.handlePlaybackDone(ev)
	}
}

func (e *Engine) handleStart() {
	if !e.stopped && e.phase != PhaseIdle {
		return
	}
	e.stopped = false
	e.conversationActive = true
	e.restartAttempted = false
	e.wake.Rearm()
	e.metrics.RecordSessionStart()
	e.logger.Info().Msg("Session started")
	e.armTimer(timerGrace, e.timing.IdleGrace)
}

func (e *Engine) handleStop() {
	if e.stopped {
		return
	}
	e.stopped = true

	// Disarm every timer and mark any outstanding responder call stale.
	e.graceGen++
	e.cooldownGen++
	e.silenceGen++
	e.restartGen++
	e.autoStopGen++
	e.respGen++

	if e.player != nil {
		e.player.CancelCurrent()
	}
	if err := e.source.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to stop recognition stream")
	}
	e.recognizing = false
	e.agg.Reset()
	e.analyzer.SetPlaybackActive(false)
	e.setPhase(PhaseIdle)
	e.metrics.RecordSessionEnd()
	e.logger.Info().Msg("Session stopped")
}

func (e *Engine) handleFragment(ev evFragment) {
	if e.stopped {
		return
	}
	e.lastActivity = e.now()
	e.notifier.OnTranscript(ev.text, ev.isFinal)

	snap := e.settings.Snapshot()
	e.wake.SetPhrase(snap.WakeWord)
	e.wake.SetSensitivity(wakeword.Sensitivity(snap.WakeWordSensitivity))

	switch e.phase {
	case PhaseIdle:
		if snap.WakeWordEnabled {
			if cand := e.wake.Evaluate(ev.text, ev.confidence, ev.isFinal); cand != nil {
				e.activateFromWakeWord(cand)
			}
		}

	case PhaseListening, PhaseThinking:
		// A final during THINKING supersedes the outstanding responder
		// call; routing bumps the responder generation, so the stale
		// reply is discarded on arrival.
		if utt := e.agg.OnFragment(ev.text, ev.isFinal); utt != nil {
			e.routeUtterance(utt)
		}

	case PhaseSpeaking:
		if snap.WakeWordEnabled {
			if cand := e.wake.Evaluate(ev.text, ev.confidence, ev.isFinal); cand != nil {
				e.cancelPlaybackForInterrupt()
				e.activateFromWakeWord(cand)
				return
			}
		}

		utt := e.agg.OnFragment(ev.text, ev.isFinal)
		if e.interruptionQualifies(ev.text) {
			e.cancelPlaybackForInterrupt()
			e.metrics.RecordInterruption()
			e.conversationActive = true
			e.setPhase(PhaseListening)
			e.logger.Info().Str("text", ev.text).Msg("Barge-in confirmed")
			if utt != nil {
				utt.TriggeredInterruption = true
				e.routeUtterance(utt)
			}
		}
		// A final that does not qualify while speaking is presumed echo
		// and discarded with the aggregator's buffer already consumed.
	}
}

// SubmitText injects a typed utterance, for clients without a microphone.
// While speaking it acts as an explicit interruption.
func (e *Engine) SubmitText(text string) {
	e.dispatch(evText{text: text})
}

func (e *Engine) handleText(text string) {
	if e.stopped {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	e.lastActivity = e.now()
	e.notifier.OnTranscript(text, true)

	utt := &transcript.Utterance{Text: text, IsFinal: true, CapturedAt: e.now()}
	if e.phase == PhaseSpeaking {
		e.cancelPlaybackForInterrupt()
		e.metrics.RecordInterruption()
		e.setPhase(PhaseListening)
		utt.TriggeredInterruption = true
	}
	e.routeUtterance(utt)
}

// interruptionQualifies applies the barge-in policy: the speaking guard
// window has elapsed, the analyzer reports sustained activity at its raised
// playback threshold, and the captured text is long enough to not be noise.
func (e *Engine) interruptionQualifies(text string) bool {
	if e.now().Sub(e.speakingSince) < e.timing.SpeakingGuard {
		return false
	}
	if !e.analyzer.IsActive() {
		return false
	}
	return len(strings.TrimSpace(text)) >= e.timing.InterruptMinChars
}

func (e *Engine) cancelPlaybackForInterrupt() {
	if e.player != nil {
		e.player.CancelCurrent()
	}
	e.analyzer.SetPlaybackActive(false)
}

// activateFromWakeWord re-enters LISTENING from IDLE or SPEAKING. Wake-word
// activation takes precedence over a pending silence timeout, so the
// conversation is marked live and the silence timer disarmed.
func (e *Engine) activateFromWakeWord(cand *wakeword.Candidate) {
	e.conversationActive = true
	e.silenceGen++
	e.graceGen++
	e.metrics.RecordWakeWordActivation()
	e.logger.Info().
		Str("phrase", cand.MatchedPhrase).
		Float64("confidence", cand.Confidence).
		Msg("Wake word recognized")
	e.setPhase(PhaseListening)
	e.scheduleAutoStop()
}

func (e *Engine) handleRecognitionEnded(err error) {
	e.recognizing = false
	if e.stopped || e.phase == PhaseIdle {
		return
	}

	benign := err == nil || errors.Is(err, stt.ErrNoSpeech)
	if benign {
		e.restartAttempted = false
		e.logger.Debug().Msg("Recognition ended without speech, scheduling restart")
		e.armTimer(timerRestart, e.timing.RestartDelay)
		return
	}

	if !e.restartAttempted {
		e.restartAttempted = true
		e.logger.Warn().Err(err).Msg("Recognition ended with error, retrying once")
		e.armTimer(timerRestart, e.timing.RestartDelay)
		return
	}

	e.logger.Error().Err(err).Msg("Recognition failed repeatedly, going idle")
	e.notifier.OnError("speech recognition is unavailable")
	e.metrics.RecordError("recognition_failed", "stt")
	e.setPhase(PhaseIdle)
}

func (e *Engine) handleTimer(ev evTimer) {
	if e.stopped {
		return
	}
	switch ev.kind {
	case timerGrace:
		if ev.gen != e.graceGen {
			return
		}
		e.handleGraceElapsed()
	case timerCooldown:
		if ev.gen != e.cooldownGen {
			return
		}
		e.handleCooldownElapsed()
	case timerSilence:
		if ev.gen != e.silenceGen {
			return
		}
		e.handleSilenceElapsed()
	case timerRestart:
		if ev.gen != e.restartGen {
			return
		}
		e.handleRestartElapsed()
	case timerAutoStop:
		if ev.gen != e.autoStopGen {
			return
		}
		e.handleAutoStopElapsed()
	}
}

func (e *Engine) handleGraceElapsed() {
	if e.phase != PhaseIdle {
		return
	}
	snap := e.settings.Snapshot()
	if !snap.RecognitionEnabled {
		// Settings may re-enable recognition later; keep the loop alive.
		e.armTimer(timerGrace, e.timing.IdleGrace)
		return
	}
	if err := e.source.Start(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to start recognition, staying idle")
		e.metrics.RecordError("recognition_start", "stt")
		e.armTimer(timerGrace, e.timing.IdleGrace)
		return
	}
	e.restartAttempted = false
	e.recognizing = true
	e.setPhase(PhaseListening)
	e.scheduleAutoStop()
}

func (e *Engine) handleCooldownElapsed() {
	if e.phase != PhaseSpeaking {
		return
	}
	e.enterListeningPostSpeech()
}

func (e *Engine) handleSilenceElapsed() {
	if e.phase != PhaseListening || !e.conversationActive {
		return
	}
	e.conversationActive = false
	e.wake.Rearm()
	e.metrics.RecordConversationPause()
	e.notifier.OnConversationPaused()
	e.logger.Info().Msg("Conversation paused after silence")
}

// handleAutoStopElapsed ends the session after a prolonged stretch with no
// audio activity or transcript, when auto stop is enabled. Activity since
// arming pushes the deadline out instead of stopping.
func (e *Engine) handleAutoStopElapsed() {
	if e.phase != PhaseListening {
		return
	}
	snap := e.settings.Snapshot()
	if !snap.AutoStopAfterSilence || snap.SilenceThresholdSec <= 0 {
		return
	}
	threshold := time.Duration(snap.SilenceThresholdSec * float64(time.Second))
	if idle := e.now().Sub(e.lastActivity); idle < threshold {
		e.armAutoStop(threshold - idle)
		return
	}
	e.logger.Info().Msg("Auto-stopping after prolonged silence")
	e.handleStop()
}

func (e *Engine) handleRestartElapsed() {
	if e.phase == PhaseIdle {
		return
	}
	if err := e.source.Start(); err != nil {
		e.logger.Error().Err(err).Msg("Recognition restart failed, going idle")
		e.metrics.RecordRecognitionRestart(false)
		e.notifier.OnError("speech recognition could not be restarted")
		e.setPhase(PhaseIdle)
		return
	}
	e.recognizing = true
	e.metrics.RecordRecognitionRestart(true)
	e.logger.Debug().Msg("Recognition restarted")
}

// routeUtterance hands a finalized utterance to the responder and moves to
// THINKING. A new route supersedes any outstanding responder call.
func (e *Engine) routeUtterance(utt *transcript.Utterance) {
	e.silenceGen++
	e.conversationActive = true

	// Without continuous listening the recognition stream runs one
	// utterance at a time; it is restarted when listening resumes.
	if !e.settings.Snapshot().ContinuousListening {
		if err := e.source.Stop(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to stop recognition stream")
		}
		e.recognizing = false
	}

	e.setPhase(PhaseThinking)

	e.respGen++
	gen := e.respGen
	text := utt.Text

	e.metrics.RecordResponderStart()
	go e.respond(gen, text)
}

func (e *Engine) respond(gen uint64, text string) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if e.timing.ResponderTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timing.ResponderTimeout)
		defer cancel()
	}

	reply, err := e.resp.Respond(ctx, text, func(chunk string) {
		e.notifier.OnAssistantText(chunk)
	})
	e.dispatch(evResponderDone{gen: gen, reply: reply, err: err})
}

func (e *Engine) handleResponderDone(ev evResponderDone) {
	if e.stopped || ev.gen != e.respGen {
		return
	}
	if e.phase != PhaseThinking {
		return
	}

	e.metrics.RecordResponderEnd(ev.err == nil)
	if ev.err != nil {
		e.logger.Warn().Err(ev.err).Msg("Responder failed, speaking apology")
		e.metrics.RecordError("responder_failed", "responder")
		e.notifier.OnError("the assistant could not produce a response")
		e.speak(apologyText)
		return
	}
	if strings.TrimSpace(ev.reply) == "" {
		e.enterListeningPostSpeech()
		return
	}
	e.speak(ev.reply)
}

// speak moves to SPEAKING and starts playback, or skips straight back to
// listening when synthesis is disabled.
func (e *Engine) speak(text string) {
	snap := e.settings.Snapshot()
	if !snap.SynthesisEnabled || !snap.AutoReadResponses || e.player == nil {
		e.enterListeningPostSpeech()
		return
	}

	e.setPhase(PhaseSpeaking)
	e.speakingSince = e.now()
	e.analyzer.SetPlaybackActive(true)
	e.wake.Rearm()
	e.metrics.RecordPlaybackStart()
	e.player.Play(text)
}

func (e *Engine) handlePlaybackDone(ev evPlaybackDone) {
	e.analyzer.SetPlaybackActive(false)
	if e.stopped {
		return
	}

	e.metrics.RecordPlaybackEnd(ev.state.String())

	switch ev.state {
	case playback.StateCompleted:
		if e.phase == PhaseSpeaking {
			e.armTimer(timerCooldown, e.timing.PostSpeechCooldown)
		}
	case playback.StateCancelled:
		// The canceller (barge-in, wake word, stop) already transitioned.
	case playback.StateFailed:
		e.logger.Warn().Err(ev.err).Msg("Playback failed on both synthesis paths")
		e.metrics.RecordError("playback_failed", "playback")
		e.notifier.OnError("speech playback failed")
		if e.phase == PhaseSpeaking {
			e.setPhase(PhaseIdle)
			e.armTimer(timerGrace, e.timing.IdleGrace)
		}
	}
}

// enterListeningPostSpeech returns to LISTENING after a spoken response and,
// in conversational mode, arms the silence timeout.
func (e *Engine) enterListeningPostSpeech() {
	snap := e.settings.Snapshot()
	if !snap.ContinuousListening {
		if err := e.source.Start(); err != nil {
			e.logger.Error().Err(err).Msg("Failed to resume recognition, going idle")
			e.metrics.RecordError("recognition_start", "stt")
			e.notifier.OnError("speech recognition could not be resumed")
			e.setPhase(PhaseIdle)
			e.armTimer(timerGrace, e.timing.IdleGrace)
			return
		}
		e.recognizing = true
	}
	e.setPhase(PhaseListening)
	if snap.ConversationalMode && snap.ConversationTimeout > 0 {
		e.armSilence(time.Duration(snap.ConversationTimeout * float64(time.Second)))
	}
	e.scheduleAutoStop()
}

func (e *Engine) armSilence(d time.Duration) {
	e.silenceGen++
	gen := e.silenceGen
	time.AfterFunc(d, func() {
		e.dispatch(evTimer{kind: timerSilence, gen: gen})
	})
}

func (e *Engine) armAutoStop(d time.Duration) {
	e.autoStopGen++
	gen := e.autoStopGen
	time.AfterFunc(d, func() {
		e.dispatch(evTimer{kind: timerAutoStop, gen: gen})
	})
}

// scheduleAutoStop arms the auto-stop deadline on entry to LISTENING, when
// enabled. The window starts fresh from now.
func (e *Engine) scheduleAutoStop() {
	snap := e.settings.Snapshot()
	if !snap.AutoStopAfterSilence || snap.SilenceThresholdSec <= 0 {
		return
	}
	e.lastActivity = e.now()
	e.armAutoStop(time.Duration(snap.SilenceThresholdSec * float64(time.Second)))
}

func (e *Engine) armTimer(kind timerKind, d time.Duration) {
	var gen uint64
	switch kind {
	case timerGrace:
		e.graceGen++
		gen = e.graceGen
	case timerCooldown:
		e.cooldownGen++
		gen = e.cooldownGen
	case timerSilence:
		e.armSilence(d)
		return
	case timerRestart:
		e.restartGen++
		gen = e.restartGen
	}
	time.AfterFunc(d, func() {
		e.dispatch(evTimer{kind: kind, gen: gen})
	})
}

func (e *Engine) setPhase(to Phase) {
	from := e.phase
	if from == to {
		return
	}
	e.phase = to
	e.metrics.RecordPhaseTransition(from.String(), to.String())
	e.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Phase transition")
	e.notifier.OnPhaseChange(from, to)
}
