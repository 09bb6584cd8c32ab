package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceloop_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceloop_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn-taking metrics
	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_phase_transitions_total",
		Help: "Total state machine phase transitions",
	}, []string{"from", "to"})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_interruptions_total",
		Help: "Total confirmed barge-in interruptions",
	})

	wakeWordActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_wake_word_activations_total",
		Help: "Total wake word activations",
	})

	conversationPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_conversation_pauses_total",
		Help: "Total silence-timeout conversation pauses",
	})

	recognitionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_recognition_restarts_total",
		Help: "Total automatic recognition stream restarts",
	}, []string{"outcome"}) // outcome: "success" or "failure"

	// Playback metrics
	playbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_playback_total",
		Help: "Total playback handles by terminal state",
	}, []string{"state"}) // state: completed, cancelled, failed

	playbackLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceloop_playback_start_latency_seconds",
		Help:    "Latency from synthesis request to first audio",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Responder metrics
	responderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_responder_requests_total",
		Help: "Total dialogue responder requests",
	}, []string{"status"})

	responderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceloop_responder_latency_seconds",
		Help:    "Dialogue responder round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voiceloop_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID          string
	startTime          time.Time
	playbackStartTime  time.Time
	responderStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordPhaseTransition records one state machine transition
func (m *Metrics) RecordPhaseTransition(from, to string) {
	phaseTransitions.WithLabelValues(from, to).Inc()
}

// RecordInterruption records a confirmed barge-in
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordWakeWordActivation records a wake word activation
func (m *Metrics) RecordWakeWordActivation() {
	wakeWordActivations.Inc()
}

// RecordConversationPause records a silence-timeout pause
func (m *Metrics) RecordConversationPause() {
	conversationPauses.Inc()
}

// RecordRecognitionRestart records an automatic recognition restart attempt
func (m *Metrics) RecordRecognitionRestart(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	recognitionRestarts.WithLabelValues(outcome).Inc()
}

// RecordPlaybackStart records the start of a playback request
func (m *Metrics) RecordPlaybackStart() {
	m.mu.Lock()
	m.playbackStartTime = time.Now()
	m.mu.Unlock()
}

// RecordPlaybackAudioStarted records the moment audio begins to flow. Safe
// to call on every chunk; only the first one after RecordPlaybackStart
// observes.
func (m *Metrics) RecordPlaybackAudioStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playbackStartTime.IsZero() {
		return
	}
	playbackLatency.Observe(time.Since(m.playbackStartTime).Seconds())
	m.playbackStartTime = time.Time{}
}

// RecordPlaybackEnd records a playback handle reaching a terminal state
func (m *Metrics) RecordPlaybackEnd(state string) {
	playbackRequests.WithLabelValues(state).Inc()
}

// RecordResponderStart records the start of a responder request
func (m *Metrics) RecordResponderStart() {
	m.mu.Lock()
	m.responderStartTime = time.Now()
	m.mu.Unlock()
}

// RecordResponderEnd records the end of a responder request
func (m *Metrics) RecordResponderEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.responderStartTime.IsZero() {
		responderLatency.Observe(time.Since(m.responderStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	responderRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
