package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
	"github.com/voiceloop-ai/voiceloop/internal/resilience"
)

type message struct {
	Role    string
	Content string
}

// Gemini implements Responder over Google's streamGenerateContent SSE API.
type Gemini struct {
	cfg        *config.Config
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	breaker    *resilience.Breaker
	retry      *resilience.Policy

	mu      sync.Mutex
	history []message
}

// NewGemini creates a Gemini-backed responder with an empty history.
func NewGemini(cfg *config.Config, logger zerolog.Logger) *Gemini {
	breaker := resilience.NewBreaker(
		"gemini",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		func(name string, state resilience.BreakerState) {
			observability.UpdateCircuitBreakerState(name, int(state))
		},
	)
	retry := resilience.DefaultPolicy()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	}
	return &Gemini{
		cfg:        cfg,
		baseURL:    "https://generativelanguage.googleapis.com",
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "gemini").Logger(),
		breaker:    breaker,
		retry:      retry,
	}
}

// Respond streams a reply to userText and appends both sides of the exchange
// to the history on success.
func (g *Gemini) Respond(ctx context.Context, userText string, onChunk func(text string)) (string, error) {
	g.mu.Lock()
	history := make([]message, len(g.history))
	copy(history, g.history)
	g.mu.Unlock()

	var reply string
	emitted := false
	err := resilience.Do(func() error {
		r, err := g.stream(ctx, history, userText, func(chunk string) {
			emitted = true
			if onChunk != nil {
				onChunk(chunk)
			}
		})
		if err != nil {
			return err
		}
		reply = r
		return nil
	}, g.retry, func(err error) bool {
		// Retrying after chunks reached the caller would repeat them.
		return ctx.Err() == nil && !emitted && resilience.IsTransient(err)
	})
	g.breaker.Record(err == nil)
	if err != nil {
		observability.IncrementCircuitBreakerFailures("gemini")
		return "", err
	}

	g.mu.Lock()
	g.history = append(g.history,
		message{Role: "user", Content: userText},
		message{Role: "model", Content: reply},
	)
	g.mu.Unlock()

	g.logger.Debug().Int("reply_length", len(reply)).Msg("Gemini response complete")
	return reply, nil
}

func (g *Gemini) stream(ctx context.Context, history []message, userText string, onChunk func(string)) (string, error) {
	if g.breaker.State() == resilience.BreakerOpen {
		return "", resilience.ErrBreakerOpen
	}

	contents := make([]map[string]interface{}, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, geminiTurn(msg.Role, msg.Content))
	}

	// The system prompt rides in front of the first user turn; the v1beta
	// generateContent API has no separate system role.
	text := userText
	if g.cfg.GeminiSystemPrompt != "" && len(history) == 0 {
		text = g.cfg.GeminiSystemPrompt + "\n\n" + userText
	}
	contents = append(contents, geminiTurn("user", text))

	requestBody := map[string]interface{}{
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"temperature": g.cfg.GeminiTemperature,
		},
	}
	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		g.baseURL, g.cfg.GeminiModel, g.cfg.GeminiAPIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, string(detail))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = resilience.MarkTransient(err)
		}
		return "", err
	}

	var fullReply strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var streamResp struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
			continue
		}

		if len(streamResp.Candidates) > 0 && len(streamResp.Candidates[0].Content.Parts) > 0 {
			chunk := streamResp.Candidates[0].Content.Parts[0].Text
			if chunk != "" {
				fullReply.WriteString(chunk)
				if onChunk != nil {
					onChunk(chunk)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return fullReply.String(), nil
}

func geminiTurn(role, content string) map[string]interface{} {
	return map[string]interface{}{
		"role": role,
		"parts": []map[string]string{
			{"text": content},
		},
	}
}

// Reset clears the conversation history.
func (g *Gemini) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
}

// HistoryLen returns the number of stored turns.
func (g *Gemini) HistoryLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history)
}
