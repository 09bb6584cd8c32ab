package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/audio"
	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
)

const elevenLabsSampleRate = 24000

// ElevenLabsSynthesizer is the fallback synthesis path, backed by ElevenLabs'
// HTTP streaming endpoint.
type ElevenLabsSynthesizer struct {
	cfg        *config.Config
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewElevenLabsSynthesizer creates the ElevenLabs synthesis client. Returns
// nil when no API key is configured, which disables the fallback path.
func NewElevenLabsSynthesizer(cfg *config.Config, logger zerolog.Logger) *ElevenLabsSynthesizer {
	if cfg.ElevenLabsAPIKey == "" {
		return nil
	}
	return &ElevenLabsSynthesizer{
		cfg:        cfg,
		baseURL:    "https://api.elevenlabs.io",
		httpClient: &http.Client{Timeout: 0},
		logger:     logger.With().Str("component", "elevenlabs").Logger(),
	}
}

func (e *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

// Synthesize streams synthesized audio chunk by chunk, resampled to the
// configured sample rate.
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (<-chan playback.Chunk, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid elevenlabs base URL: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + e.cfg.ElevenLabsVoiceID + "/stream"
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", fmt.Sprintf("pcm_%d", elevenLabsSampleRate))
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.ElevenLabsAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, string(detail))
	}

	out := make(chan playback.Chunk, 64)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		fail := func(err error) {
			select {
			case out <- playback.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}

		chunk := make([]byte, 4096)
		var carry []byte
		for {
			n, rerr := resp.Body.Read(chunk)
			if n > 0 {
				data := append(carry, chunk[:n]...)
				// Hold back a trailing odd byte so samples stay aligned.
				if len(data)%2 != 0 {
					carry = []byte{data[len(data)-1]}
					data = data[:len(data)-1]
				} else {
					carry = nil
				}
				if len(data) == 0 {
					continue
				}
				pcm, cerr := audio.ResamplePCM16(data, elevenLabsSampleRate, e.cfg.AudioSampleRate)
				if cerr != nil {
					e.logger.Warn().Err(cerr).Msg("Error resampling ElevenLabs chunk")
					fail(fmt.Errorf("resample chunk: %w", cerr))
					return
				}
				select {
				case out <- playback.Chunk{Data: pcm}:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					e.logger.Warn().Err(rerr).Msg("ElevenLabs stream read error")
					fail(fmt.Errorf("stream read: %w", rerr))
				}
				return
			}
		}
	}()

	return out, nil
}
