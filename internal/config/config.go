package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voiceloop engine service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Recognition / conversation behavior. These seed the runtime settings
	// store; clients may change them per session afterwards.
	RecognitionEnabled   bool    `envconfig:"RECOGNITION_ENABLED" default:"true"`
	ContinuousListening  bool    `envconfig:"CONTINUOUS_LISTENING" default:"true"`
	AutoStopAfterSilence bool    `envconfig:"AUTO_STOP_AFTER_SILENCE" default:"false"`
	SilenceThresholdSec  float64 `envconfig:"SILENCE_THRESHOLD_SEC" default:"5"`
	WakeWord             string  `envconfig:"WAKE_WORD" default:"jarvis"`
	WakeWordEnabled      bool    `envconfig:"WAKE_WORD_ENABLED" default:"true"`
	WakeWordSensitivity  string  `envconfig:"WAKE_WORD_SENSITIVITY" default:"medium"` // low, medium, high
	ConversationalMode   bool    `envconfig:"CONVERSATIONAL_MODE" default:"true"`
	ConversationTimeout  float64 `envconfig:"CONVERSATION_TIMEOUT_SEC" default:"30"`
	SynthesisEnabled     bool    `envconfig:"SYNTHESIS_ENABLED" default:"true"`
	AutoReadResponses    bool    `envconfig:"AUTO_READ_RESPONSES" default:"true"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Cartesia TTS API configuration (primary synthesis path)
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// ElevenLabs TTS configuration (fallback synthesis path).
	// Optional; when unset the fallback path is disabled and a primary
	// synthesis failure surfaces directly.
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`

	// Gemini dialogue responder configuration
	GeminiAPIKey       string  `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel        string  `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiTemperature  float64 `envconfig:"GEMINI_TEMPERATURE" default:"0.7"`
	GeminiSystemPrompt string  `envconfig:"GEMINI_SYSTEM_PROMPT" default:"You are a helpful voice assistant. Keep replies short and speakable."`
	ResponderTimeout   int     `envconfig:"RESPONDER_TIMEOUT" default:"30"` // seconds

	// Audio analysis configuration
	AudioSampleRate       int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	ActivityMinThreshold  float64 `envconfig:"ACTIVITY_MIN_THRESHOLD" default:"300.0"` // absolute RMS floor for the activity threshold
	ActivityMultiplier    float64 `envconfig:"ACTIVITY_MULTIPLIER" default:"1.8"`      // noise floor -> threshold multiplier
	ActivityActiveFrames  int     `envconfig:"ACTIVITY_ACTIVE_FRAMES" default:"3"`     // consecutive frames to flip active
	ActivitySilenceFrames int     `envconfig:"ACTIVITY_SILENCE_FRAMES" default:"10"`   // consecutive frames to flip inactive
	EchoThresholdBoost    float64 `envconfig:"ECHO_THRESHOLD_BOOST" default:"2.5"`     // threshold multiplier while playback is active
	EchoSimilarityCutoff  float64 `envconfig:"ECHO_SIMILARITY_CUTOFF" default:"0.95"`  // cosine similarity above which a frame is presumed echo
	PlaybackOnsetMuteMs   int     `envconfig:"PLAYBACK_ONSET_MUTE_MS" default:"1000"`  // ignore analysis this long after playback starts

	// Turn-taking timing configuration
	IdleGraceMs          int `envconfig:"IDLE_GRACE_MS" default:"1000"`           // IDLE -> LISTENING delay
	SpeakingGuardMs      int `envconfig:"SPEAKING_GUARD_MS" default:"1000"`       // min time in SPEAKING before barge-in is honored
	PostSpeechCooldownMs int `envconfig:"POST_SPEECH_COOLDOWN_MS" default:"1000"` // delay before re-listening after playback
	RestartDelayMs       int `envconfig:"RESTART_DELAY_MS" default:"100"`         // recognition restart delay
	InterruptMinChars    int `envconfig:"INTERRUPT_MIN_CHARS" default:"3"`        // minimum captured text length for barge-in

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`   // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"` // pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and option values.
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	switch c.WakeWordSensitivity {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("WAKE_WORD_SENSITIVITY must be low, medium or high, got %q", c.WakeWordSensitivity)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
