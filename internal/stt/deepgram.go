package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
	"github.com/voiceloop-ai/voiceloop/internal/resilience"
)

// liveCallbackHandler implements the LiveMessageCallback interface. It embeds
// the SDK's default handler and overrides only Message and Error.
type liveCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (h *liveCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	h.onMessage(message)
	return nil
}

func (h *liveCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if h.onError != nil {
		return h.onError(errorResponse)
	}
	return h.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramSource implements Source over Deepgram's live transcription API.
type DeepgramSource struct {
	cfg    *config.Config
	logger zerolog.Logger

	fragments chan Fragment
	ended     chan error
	breaker   *resilience.Breaker
	reconnect *resilience.ReconnectConfig

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	isActive bool
	gotFinal bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDeepgramSource creates a Deepgram live transcription source.
func NewDeepgramSource(cfg *config.Config, logger zerolog.Logger) *DeepgramSource {
	ctx, cancel := context.WithCancel(context.Background())
	breaker := resilience.NewBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		func(name string, state resilience.BreakerState) {
			observability.UpdateCircuitBreakerState(name, int(state))
		},
	)
	return &DeepgramSource{
		cfg:       cfg,
		logger:    logger.With().Str("component", "deepgram").Logger(),
		fragments: make(chan Fragment, 100),
		ended:     make(chan error, 4),
		breaker:   breaker,
		reconnect: reconnectConfigFrom(cfg),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// reconnectConfigFrom maps the reconnect settings onto the defaults, keeping
// the default for any knob left unset.
func reconnectConfigFrom(cfg *config.Config) *resilience.ReconnectConfig {
	rc := resilience.DefaultReconnectConfig()
	if cfg.ReconnectMaxAttempts > 0 {
		rc.MaxAttempts = cfg.ReconnectMaxAttempts
	}
	if cfg.ReconnectBackoff > 0 {
		rc.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond
	}
	return rc
}

// Start opens the live transcription stream.
func (d *DeepgramSource) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram source is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.AudioSampleRate,
	}

	callback := &liveCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError:                d.handleError,
	}

	var client *listenClient.WSCallback
	err := resilience.Reconnect(d.ctx, d.logger, func() error {
		c, cerr := listenClient.NewWSUsingCallback(
			d.ctx,
			d.cfg.DeepgramAPIKey,
			nil,
			tOptions,
			callback,
		)
		if cerr != nil {
			return cerr
		}
		client = c
		return nil
	}, d.reconnect)
	if err != nil {
		d.breaker.Record(false)
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true
	d.gotFinal = false
	d.breaker.Record(true)

	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.cfg.DeepgramLanguage).
		Msg("Deepgram stream started")
	return nil
}

func (d *DeepgramSource) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		d.logger.Debug().Msg("Deepgram speech started")

	case "UtteranceEnd":
		d.logger.Debug().Msg("Deepgram utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		frag := Fragment{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    msg.IsFinal,
			StartTime:  msg.Start,
			Duration:   msg.Duration,
		}
		if len(alt.Words) > 0 && frag.Duration == 0 {
			frag.StartTime = alt.Words[0].Start
			lastWord := alt.Words[len(alt.Words)-1]
			frag.Duration = lastWord.End - frag.StartTime
		}

		if msg.IsFinal {
			d.mu.Lock()
			d.gotFinal = true
			d.mu.Unlock()
		}

		select {
		case d.fragments <- frag:
		default:
			d.logger.Warn().Msg("Fragment channel full, dropping hypothesis")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram message ignored")
	}
}

func (d *DeepgramSource) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	detail := fmt.Sprintf("%+v", errorResponse)
	d.logger.Warn().Str("detail", detail).Msg("Deepgram stream error")
	d.breaker.Record(false)
	observability.IncrementCircuitBreakerFailures("deepgram")

	select {
	case <-d.ctx.Done():
		return nil
	default:
	}

	d.mu.Lock()
	wasActive := d.isActive
	gotFinal := d.gotFinal
	d.isActive = false
	d.mu.Unlock()

	if !wasActive {
		return nil
	}

	endErr := fmt.Errorf("deepgram stream error: %s", detail)
	if isNoSpeechDetail(detail) || !gotFinal {
		endErr = ErrNoSpeech
	}
	select {
	case d.ended <- endErr:
	default:
	}
	return nil
}

// isNoSpeechDetail recognizes Deepgram's idle-timeout shutdowns, which close
// the stream when no audio or speech arrives for a while.
func isNoSpeechDetail(detail string) bool {
	lower := strings.ToLower(detail)
	for _, s := range []string{"net-0001", "no audio", "timeout", "1011"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SendAudio forwards PCM audio to the live stream.
func (d *DeepgramSource) SendAudio(pcm []byte) error {
	return d.breaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram source is not active")
		}

		if _, err := client.Write(pcm); err != nil {
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})
}

// Fragments returns the hypothesis channel.
func (d *DeepgramSource) Fragments() <-chan Fragment {
	return d.fragments
}

// Ended returns the stream-end channel.
func (d *DeepgramSource) Ended() <-chan error {
	return d.ended
}

// Stop closes the live stream without releasing the source; Start may be
// called again afterwards.
func (d *DeepgramSource) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram stream stopped")
	return nil
}

// Close releases the source and closes the fragment channel.
func (d *DeepgramSource) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.fragments)
	}()
	return nil
}

// IsActive reports whether the stream is currently open.
func (d *DeepgramSource) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
