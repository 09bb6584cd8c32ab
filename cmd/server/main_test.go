package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
)

func TestRequireAPIKey(t *testing.T) {
	ok, err := requireAPIKey("TEST_API_KEY", "secret")(context.Background())
	if !ok || err != nil {
		t.Errorf("Expected ready with a key set, got ok=%v err=%v", ok, err)
	}

	ok, err = requireAPIKey("TEST_API_KEY", "")(context.Background())
	if ok {
		t.Error("Expected not ready without a key")
	}
	if err == nil || !strings.Contains(err.Error(), "TEST_API_KEY") {
		t.Errorf("Expected the missing key named, got %v", err)
	}
}

func TestReadinessReportsMissingKeys(t *testing.T) {
	cfg := &config.Config{
		DeepgramAPIKey: "dg-key",
		CartesiaAPIKey: "cart-key",
		// GeminiAPIKey intentionally unset.
	}
	handler := observability.ReadinessHandler(readinessChecks(cfg))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with a missing key, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "GEMINI_API_KEY") {
		t.Errorf("Expected the missing key in the response, got %s", rec.Body.String())
	}

	cfg.GeminiAPIKey = "gem-key"
	handler = observability.ReadinessHandler(readinessChecks(cfg))
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with all keys set, got %d", rec.Code)
	}
}
