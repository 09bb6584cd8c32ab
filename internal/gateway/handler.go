package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/audio"
	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
	"github.com/voiceloop-ai/voiceloop/internal/responder"
	"github.com/voiceloop-ai/voiceloop/internal/session"
	"github.com/voiceloop-ai/voiceloop/internal/settings"
	"github.com/voiceloop-ai/voiceloop/internal/stt"
	"github.com/voiceloop-ai/voiceloop/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin validation is deployment-specific; allow all here.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientMessage is one inbound event from the client.
type clientMessage struct {
	Type  string `json:"type"`            // audio, text, stop
	Audio string `json:"audio,omitempty"` // base64 little-endian PCM16
	Text  string `json:"text,omitempty"`
}

// serverMessage is one outbound event to the client.
type serverMessage struct {
	Type    string `json:"type"` // transcript, phase, assistant_text, audio, paused, error
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64 little-endian PCM16
	Message string `json:"message,omitempty"`
}

// SessionDeps are the per-session collaborators. Handler builds the real
// ones; tests inject fakes.
type SessionDeps struct {
	Source    stt.Source
	Responder responder.Responder
	Primary   playback.Synthesizer
	Fallback  playback.Synthesizer
}

// VoiceSession owns one WebSocket connection and the conversation engine
// behind it.
type VoiceSession struct {
	conn    *websocket.Conn
	engine  *session.Engine
	logger  zerolog.Logger
	metrics *observability.Metrics

	out       chan serverMessage
	done      chan struct{}
	closeOnce sync.Once
}

// Handler returns the WebSocket endpoint hosting one VoiceSession per
// connection.
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			upgradeLogger := observability.GetLogger()
			upgradeLogger.Warn().Err(err).Msg("Failed to upgrade connection")
			return
		}

		sessionID := uuid.New().String()
		logger := observability.SessionLogger(sessionID, observability.NewCorrelationID())

		deps := SessionDeps{
			Source:    stt.NewDeepgramSource(cfg, logger),
			Responder: responder.NewGemini(cfg, logger),
			Primary:   tts.NewCartesiaSynthesizer(cfg, logger),
		}
		if el := tts.NewElevenLabsSynthesizer(cfg, logger); el != nil {
			deps.Fallback = el
		}

		vs := NewVoiceSession(conn, cfg, sessionID, logger, deps)
		defer vs.Close()

		vs.logger.Info().Msg("Voice session connected")
		go vs.writeLoop()
		vs.engine.Start()
		vs.readLoop()
		vs.logger.Info().Msg("Voice session disconnected")
	}
}

// NewVoiceSession wires one engine, playback controller, and connection
// together.
func NewVoiceSession(conn *websocket.Conn, cfg *config.Config, sessionID string, logger zerolog.Logger, deps SessionDeps) *VoiceSession {
	vs := &VoiceSession{
		conn:    conn,
		logger:  logger,
		metrics: observability.NewSessionMetrics(sessionID),
		out:     make(chan serverMessage, 256),
		done:    make(chan struct{}),
	}

	vs.engine = session.NewEngine(session.Deps{
		SessionID: sessionID,
		Settings:  settings.FromConfig(cfg),
		Source:    deps.Source,
		Responder: deps.Responder,
		Analyzer:  buildAnalyzer(cfg),
		Notifier:  vs,
		Logger:    logger,
		Metrics:   vs.metrics,
		Timing:    session.TimingFromConfig(cfg),
	})

	ctrl := playback.NewController(deps.Primary, deps.Fallback, vs, logger, vs.engine.HandlePlaybackDone)
	vs.engine.AttachPlayer(ctrl)
	return vs
}

func buildAnalyzer(cfg *config.Config) *audio.ActivityAnalyzer {
	return audio.NewActivityAnalyzer(audio.AnalyzerConfig{
		SampleRate:     cfg.AudioSampleRate,
		MinThreshold:   cfg.ActivityMinThreshold,
		Multiplier:     cfg.ActivityMultiplier,
		ActiveFrames:   cfg.ActivityActiveFrames,
		SilenceFrames:  cfg.ActivitySilenceFrames,
		PlaybackBoost:  cfg.EchoThresholdBoost,
		EchoSimilarity: cfg.EchoSimilarityCutoff,
		OnsetMute:      time.Duration(cfg.PlaybackOnsetMuteMs) * time.Millisecond,
	})
}

func (vs *VoiceSession) readLoop() {
	for {
		_, raw, err := vs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				vs.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			vs.logger.Warn().Err(err).Msg("Failed to parse client message")
			vs.send(serverMessage{Type: "error", Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				vs.send(serverMessage{Type: "error", Message: "malformed audio payload"})
				continue
			}
			if err := vs.engine.ProcessAudio(pcm); err != nil {
				vs.logger.Warn().Err(err).Msg("Failed to process audio chunk")
			}
		case "text":
			vs.engine.SubmitText(msg.Text)
		case "stop":
			vs.engine.Stop()
		default:
			vs.send(serverMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (vs *VoiceSession) writeLoop() {
	for {
		select {
		case <-vs.done:
			return
		case msg := <-vs.out:
			if err := vs.conn.WriteJSON(msg); err != nil {
				vs.logger.Warn().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

// send enqueues an outbound message, dropping it if the client cannot keep
// up.
func (vs *VoiceSession) send(msg serverMessage) {
	select {
	case vs.out <- msg:
	default:
		vs.logger.Warn().Str("type", msg.Type).Msg("Outbound queue full, dropping message")
	}
}

// Close tears the session down. Safe to call more than once.
func (vs *VoiceSession) Close() {
	vs.closeOnce.Do(func() {
		if err := vs.engine.Close(); err != nil {
			vs.logger.Warn().Err(err).Msg("Failed to close engine")
		}
		close(vs.done)
		vs.conn.Close()
	})
}

// WriteAudio implements playback.AudioSink; synthesized audio flows to the
// client as base64 frames.
func (vs *VoiceSession) WriteAudio(pcm []byte) error {
	vs.metrics.RecordPlaybackAudioStarted()
	vs.metrics.RecordAudioBytes("out", int64(len(pcm)))
	vs.send(serverMessage{Type: "audio", Audio: base64.StdEncoding.EncodeToString(pcm)})
	return nil
}

// Notifier implementation. These run inside the engine's dispatch, so they
// only enqueue.

func (vs *VoiceSession) OnPhaseChange(from, to session.Phase) {
	vs.send(serverMessage{Type: "phase", Phase: to.String()})
}

func (vs *VoiceSession) OnTranscript(text string, isFinal bool) {
	vs.send(serverMessage{Type: "transcript", Text: text, IsFinal: isFinal})
}

func (vs *VoiceSession) OnAssistantText(chunk string) {
	vs.send(serverMessage{Type: "assistant_text", Text: chunk})
}

func (vs *VoiceSession) OnConversationPaused() {
	vs.send(serverMessage{Type: "paused"})
}

func (vs *VoiceSession) OnError(message string) {
	vs.send(serverMessage{Type: "error", Message: message})
}
