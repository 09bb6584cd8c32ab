package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/audio"
	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/playback"
)

const cartesiaSampleRate = 24000

// CartesiaSynthesizer is the primary synthesis path, backed by Cartesia's
// HTTP TTS API.
type CartesiaSynthesizer struct {
	cfg        *config.Config
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

type cartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// NewCartesiaSynthesizer creates the Cartesia synthesis client.
func NewCartesiaSynthesizer(cfg *config.Config, logger zerolog.Logger) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{
		cfg:        cfg,
		apiURL:     "https://api.cartesia.ai/v1/tts",
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "cartesia").Logger(),
	}
}

func (c *CartesiaSynthesizer) Name() string { return "cartesia" }

// Synthesize converts text to PCM audio at the configured sample rate.
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (<-chan playback.Chunk, error) {
	reqBody := cartesiaRequest{
		Text:            text,
		VoiceID:         c.cfg.CartesiaVoiceID,
		ModelID:         c.cfg.CartesiaModelID,
		OutputFormat:    "pcm",
		SampleRate:      cartesiaSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.CartesiaAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
	}

	out := make(chan playback.Chunk, 10)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		fail := func(err error) {
			select {
			case out <- playback.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}

		audioData, err := io.ReadAll(resp.Body)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Error reading Cartesia audio response")
			fail(fmt.Errorf("read audio response: %w", err))
			return
		}
		if len(audioData) == 0 {
			c.logger.Warn().Msg("Cartesia returned empty audio data")
			fail(fmt.Errorf("empty audio response"))
			return
		}

		pcm, err := audio.ResamplePCM16(audioData, cartesiaSampleRate, c.cfg.AudioSampleRate)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Error resampling Cartesia audio")
			fail(fmt.Errorf("resample audio: %w", err))
			return
		}

		select {
		case out <- playback.Chunk{Data: pcm}:
			c.logger.Debug().
				Int("bytes", len(pcm)).
				Msg("Cartesia synthesis complete")
		case <-ctx.Done():
		}
	}()

	return out, nil
}
