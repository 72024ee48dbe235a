package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName labels logs, health responses and the gRPC health service
const ServiceName = "consult-gateway"

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consult_gateway_active_sessions",
		Help: "Number of active consultation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_gateway_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consult_gateway_session_duration_seconds",
		Help:    "Duration of consultation sessions in seconds",
		Buckets: []float64{30, 60, 300, 600, 900, 1800, 3600},
	})

	// Audio metrics
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_frames_dropped_total",
		Help: "Audio frames dropped because the channel queue was full",
	}, []string{"channel"})

	phrasesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_phrases_total",
		Help: "Phrases flushed by the segmenter",
	}, []string{"channel", "outcome"}) // outcome: emitted, too_short, forced

	// Transcription metrics
	transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_transcriptions_total",
		Help: "Utterances produced, by transcript source",
	}, []string{"source"})

	transcriptionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_transcriptions_skipped_total",
		Help: "Transcription requests skipped before reaching the provider",
	}, []string{"reason"}) // reason: locked, no_voice, duplicate, session_gone

	sttLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consult_gateway_stt_latency_seconds",
		Help:    "Speech-to-text provider latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"status"})

	// Language model metrics
	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consult_gateway_llm_latency_seconds",
		Help:    "Language model latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"purpose", "status"})

	contextSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_context_snapshots_total",
		Help: "Clinical context snapshots, by derivation",
	}, []string{"source"})

	// Suggestion metrics
	suggestionsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_suggestions_total",
		Help: "Suggestions emitted, by priority and source",
	}, []string{"priority", "source"})

	suggestionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_suggestion_generations_rejected_total",
		Help: "Generation cycles rejected before producing output",
	}, []string{"reason"}) // reason: rate_limited, session_cap

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consult_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single consultation session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a tracker and records the session start
func NewSessionMetrics(sessionID string) *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{sessionID: sessionID, startTime: time.Now()}
}

// End records the end of the session. Calling it twice has no effect.
func (m *SessionMetrics) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrameDropped counts a frame dropped at ingestion
func RecordFrameDropped(channel string) {
	framesDropped.WithLabelValues(channel).Inc()
}

// RecordPhrase counts a segmenter flush outcome
func RecordPhrase(channel, outcome string) {
	phrasesFlushed.WithLabelValues(channel, outcome).Inc()
}

// RecordTranscription counts an emitted utterance by source
func RecordTranscription(source string) {
	transcriptions.WithLabelValues(source).Inc()
}

// RecordTranscriptionSkipped counts a transcription request that never reached a provider
func RecordTranscriptionSkipped(reason string) {
	transcriptionsSkipped.WithLabelValues(reason).Inc()
}

// ObserveSTT records provider latency
func ObserveSTT(start time.Time, success bool) {
	sttLatency.WithLabelValues(status(success)).Observe(time.Since(start).Seconds())
}

// ObserveLLM records language model latency for a purpose (context, suggestions)
func ObserveLLM(purpose string, start time.Time, success bool) {
	llmLatency.WithLabelValues(purpose, status(success)).Observe(time.Since(start).Seconds())
}

// RecordContextSnapshot counts a clinical context derivation
func RecordContextSnapshot(source string) {
	contextSnapshots.WithLabelValues(source).Inc()
}

// RecordSuggestion counts an emitted suggestion
func RecordSuggestion(priority, source string) {
	suggestionsEmitted.WithLabelValues(priority, source).Inc()
}

// RecordSuggestionRejected counts a generation cycle that produced nothing
func RecordSuggestionRejected(reason string) {
	suggestionsRejected.WithLabelValues(reason).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
