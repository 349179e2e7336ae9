package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"rssi-haptics/analytics"
	"rssi-haptics/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	readingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_total",
			Help: "Total number of processed signal readings",
		},
		[]string{"admitted"},
	)

	pulsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulses_total",
			Help: "Total number of haptic pulses issued",
		},
	)

	pulseIntensity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_intensity",
			Help:    "Intensity of issued haptic pulses",
			Buckets: prometheus.LinearBuckets(32, 32, 8),
		},
	)
)

// statusClientClosedRequest labels requests whose client went away.
const statusClientClosedRequest = 499

// Actuator delivers pulse and cancel commands to the physical device.
type Actuator interface {
	Actuate(ctx context.Context, result models.AnalysisResult) error
}

// AnalysisReader looks up the latest snapshot for a target.
type AnalysisReader interface {
	GetAnalysis(ctx context.Context, targetID string) (*models.AnalysisResult, error)
}

type ReadingHandler struct {
	store     AnalysisReader
	analytics *analytics.AnalyticsEngine
	dispatch  *dispatcher
	hub       *Hub
	logger    *slog.Logger
}

type Options struct {
	Store     analytics.SnapshotStore
	Reader    AnalysisReader
	Actuator  Actuator
	Mapping   analytics.IntensityMappingConfig
	QueueSize int
	Logger    *slog.Logger
}

func NewReadingHandler(opts Options) *ReadingHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &ReadingHandler{
		store:  opts.Reader,
		hub:    NewHub(logger),
		logger: logger,
	}
	if opts.Actuator != nil {
		h.dispatch = newDispatcher(opts.Actuator, logger)
	}

	onPulse := func(targetID string, result models.AnalysisResult) {
		pulsesTotal.Inc()
		pulseIntensity.Observe(float64(result.Command.Intensity))
		h.hub.Broadcast(result)
		if h.dispatch != nil {
			h.dispatch.Submit(result)
		}
	}

	// the device loops its waveform until told otherwise
	onStop := func(targetID, sessionID string) {
		result := models.AnalysisResult{
			TargetID:   targetID,
			SessionID:  sessionID,
			Command:    models.Cancel(),
			ObservedAt: time.Now().UTC(),
		}
		h.hub.Broadcast(result)
		if h.dispatch != nil {
			h.dispatch.Submit(result)
		}
	}

	h.analytics = analytics.NewAnalyticsEngine(opts.Mapping, opts.Store,
		analytics.WithQueueSize(opts.QueueSize),
		analytics.WithPulseCallback(onPulse),
		analytics.WithStopCallback(onStop),
		analytics.WithLogger(logger),
	)
	return h
}

func (h *ReadingHandler) Hub() *Hub {
	return h.hub
}

// Close stops every session, delivers the resulting cancels and
// disconnects stream clients.
func (h *ReadingHandler) Close() {
	h.analytics.Close()
	if h.dispatch != nil {
		h.dispatch.Close()
	}
	h.hub.Close()
}

func (h *ReadingHandler) HandleReading(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	defer func() {
		duration := time.Since(start).Seconds()
		requestDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	}()

	var req models.ReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		h.fail(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.analytics.Process(r.Context(), req.TargetID, req.Reading())
	if err != nil {
		h.fail(w, r, err.Error(), processStatus(err))
		return
	}

	readingsTotal.WithLabelValues(strconv.FormatBool(result.Admitted)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)

	httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, "200").Inc()
}

func (h *ReadingHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" {
		h.fail(w, r, "target_id parameter is required", http.StatusBadRequest)
		return
	}
	if h.store == nil {
		h.fail(w, r, "snapshot store is not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := h.store.GetAnalysis(r.Context(), targetID)
	if err != nil {
		h.fail(w, r, "Failed to get analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		h.fail(w, r, "no analysis for target", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
	httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, "200").Inc()
}

func (h *ReadingHandler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" {
		h.fail(w, r, "target_id parameter is required", http.StatusBadRequest)
		return
	}

	if !h.analytics.StopSession(r.Context(), targetID) {
		h.fail(w, r, "no active session for target", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, "204").Inc()
}

func processStatus(err error) int {
	switch {
	case errors.Is(err, analytics.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, analytics.ErrQueueFull),
		errors.Is(err, analytics.ErrSessionEnded),
		errors.Is(err, analytics.ErrEngineClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *ReadingHandler) fail(w http.ResponseWriter, r *http.Request, msg string, status int) {
	httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
	http.Error(w, msg, status)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
