package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/voiceloop-ai/voiceloop/internal/config"
)

func testResponderConfig() *config.Config {
	return &config.Config{
		GeminiAPIKey:               "gem-key",
		GeminiModel:                "gemini-1.5-flash",
		GeminiTemperature:          0.7,
		GeminiSystemPrompt:         "Be brief.",
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
}

func sseBody(chunks ...string) string {
	var b strings.Builder
	for _, chunk := range chunks {
		payload, _ := json.Marshal(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": chunk}},
				}},
			},
		})
		fmt.Fprintf(&b, "data: %s\n\n", payload)
	}
	return b.String()
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) (*Gemini, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGemini(testResponderConfig(), zerolog.Nop())
	g.baseURL = srv.URL
	return g, srv
}

func TestRespondStreamsChunks(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-1.5-flash") {
			t.Errorf("Expected model in path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("Expected alt=sse, got %q", r.URL.Query().Get("alt"))
		}
		fmt.Fprint(w, sseBody("Hello", " there", "!"))
	})

	var chunks []string
	reply, err := g.Respond(context.Background(), "hi", func(text string) {
		chunks = append(chunks, text)
	})

	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply != "Hello there!" {
		t.Errorf("Expected assembled reply, got %q", reply)
	}
	if len(chunks) != 3 {
		t.Errorf("Expected 3 streamed chunks, got %d", len(chunks))
	}
}

func TestRespondIncludesSystemPromptOnFirstTurn(t *testing.T) {
	var bodies []string
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body)
		bodies = append(bodies, string(raw))
		fmt.Fprint(w, sseBody("ok"))
	})

	if _, err := g.Respond(context.Background(), "first question", nil); err != nil {
		t.Fatalf("First respond failed: %v", err)
	}
	if _, err := g.Respond(context.Background(), "second question", nil); err != nil {
		t.Fatalf("Second respond failed: %v", err)
	}

	if !strings.Contains(bodies[0], "Be brief.") {
		t.Error("Expected system prompt merged into first turn")
	}
	if strings.Contains(bodies[1], "Be brief.\\n\\nsecond") {
		t.Error("Expected system prompt only on the first turn")
	}
	// Second request carries the first exchange as history.
	if !strings.Contains(bodies[1], "first question") || !strings.Contains(bodies[1], `"model"`) {
		t.Errorf("Expected history in second request, got %s", bodies[1])
	}
}

func TestRespondRetriesTransientFailures(t *testing.T) {
	var requests int32
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sseBody("recovered"))
	})

	reply, err := g.Respond(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Respond failed despite retries: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("Expected reply from the third attempt, got %q", reply)
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	if g.HistoryLen() != 2 {
		t.Errorf("Expected the exchange recorded once, got %d entries", g.HistoryLen())
	}
}

func TestRespondDoesNotRetryClientErrors(t *testing.T) {
	var requests int32
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	if _, err := g.Respond(context.Background(), "hi", nil); err == nil {
		t.Fatal("Expected error on 400 status")
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("Expected a single request for a client error, got %d", got)
	}
}

func TestRespondErrorLeavesHistoryUntouched(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := g.Respond(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("Expected error on 429 status")
	}
	if g.HistoryLen() != 0 {
		t.Errorf("Expected empty history after failure, got %d", g.HistoryLen())
	}
}

func TestRespondContextCancel(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody("partial"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Respond(ctx, "hi", nil); err == nil {
		t.Error("Expected error with cancelled context")
	}
}

func TestResetClearsHistory(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody("ok"))
	})

	if _, err := g.Respond(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if g.HistoryLen() != 2 {
		t.Errorf("Expected 2 history entries, got %d", g.HistoryLen())
	}

	g.Reset()
	if g.HistoryLen() != 0 {
		t.Errorf("Expected empty history after Reset, got %d", g.HistoryLen())
	}
}
