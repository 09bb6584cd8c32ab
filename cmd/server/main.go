package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceloop-ai/voiceloop/internal/config"
	"github.com/voiceloop-ai/voiceloop/internal/gateway"
	"github.com/voiceloop-ai/voiceloop/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("VoiceLoop starting")

	mux := http.NewServeMux()

	mux.HandleFunc("/streams/session", gateway.Handler(cfg))
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness probes only validate configuration; they never call the
	// upstream APIs.
	mux.HandleFunc("/ready", observability.ReadinessHandler(readinessChecks(cfg)))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// readinessChecks reports each upstream as ready when its API key is
// configured.
func readinessChecks(cfg *config.Config) map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"deepgram": requireAPIKey("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey),
		"cartesia": requireAPIKey("CARTESIA_API_KEY", cfg.CartesiaAPIKey),
		"gemini":   requireAPIKey("GEMINI_API_KEY", cfg.GeminiAPIKey),
	}
}

func requireAPIKey(name, value string) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if value == "" {
			return false, fmt.Errorf("%s is not set", name)
		}
		return true, nil
	}
}
