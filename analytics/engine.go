package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rssi-haptics/models"

	"github.com/google/uuid"
)

var (
	ErrQueueFull    = errors.New("session queue is full")
	ErrOutOfOrder   = errors.New("reading is older than the previous reading")
	ErrEngineClosed = errors.New("analytics engine is closed")
	ErrSessionEnded = errors.New("session has ended")
)

const DefaultQueueSize = 256

// SnapshotStore persists the latest result for each target.
type SnapshotStore interface {
	SaveAnalysis(ctx context.Context, targetID string, result models.AnalysisResult) error
	DeleteAnalysis(ctx context.Context, targetID string) error
}

type PulseCallback func(targetID string, result models.AnalysisResult)

// StopCallback runs once a session has ended, after its last pulse callback.
type StopCallback func(targetID, sessionID string)

type job struct {
	reading models.SignalReading
	reply   chan outcome
}

type outcome struct {
	result models.AnalysisResult
	err    error
}

// session owns one sampler and the single goroutine allowed to touch it.
type session struct {
	id       string
	targetID string
	sampler  *AnomalySampler
	queue    chan job

	mu     sync.RWMutex
	closed bool

	lastObserved time.Time
	done         chan struct{}
	saves        sync.WaitGroup
	ended        sync.Once
}

// AnalyticsEngine routes readings to per-target sessions. Readings for one
// target are processed strictly in arrival order by that session's worker.
type AnalyticsEngine struct {
	store     SnapshotStore
	cfg       IntensityMappingConfig
	queueSize int
	onPulse   PulseCallback
	onStop    StopCallback
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

type EngineOption func(*AnalyticsEngine)

func WithQueueSize(n int) EngineOption {
	return func(ae *AnalyticsEngine) {
		if n > 0 {
			ae.queueSize = n
		}
	}
}

func WithPulseCallback(cb PulseCallback) EngineOption {
	return func(ae *AnalyticsEngine) { ae.onPulse = cb }
}

func WithStopCallback(cb StopCallback) EngineOption {
	return func(ae *AnalyticsEngine) { ae.onStop = cb }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(ae *AnalyticsEngine) {
		if l != nil {
			ae.logger = l
		}
	}
}

// NewAnalyticsEngine creates an engine. store may be nil.
func NewAnalyticsEngine(cfg IntensityMappingConfig, store SnapshotStore, opts ...EngineOption) *AnalyticsEngine {
	engine := &AnalyticsEngine{
		store:     store,
		cfg:       cfg,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Process hands the reading to the target's session and waits for the result.
func (ae *AnalyticsEngine) Process(ctx context.Context, targetID string, reading models.SignalReading) (models.AnalysisResult, error) {
	s, err := ae.session(targetID)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	j := job{reading: reading, reply: make(chan outcome, 1)}
	if err := s.enqueue(j); err != nil {
		if errors.Is(err, ErrQueueFull) {
			ae.logger.Warn("session queue is full, dropping reading", "target_id", targetID, "session_id", s.id)
		}
		return models.AnalysisResult{}, err
	}

	select {
	case out := <-j.reply:
		return out.result, out.err
	case <-ctx.Done():
		return models.AnalysisResult{}, ctx.Err()
	}
}

func (ae *AnalyticsEngine) session(targetID string) (*session, error) {
	ae.mu.RLock()
	s, exists := ae.sessions[targetID]
	closed := ae.closed
	ae.mu.RUnlock()

	if closed {
		return nil, ErrEngineClosed
	}
	if exists {
		return s, nil
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.closed {
		return nil, ErrEngineClosed
	}
	if s, exists = ae.sessions[targetID]; exists {
		return s, nil
	}

	s = &session{
		id:       uuid.NewString(),
		targetID: targetID,
		sampler:  NewAnomalySampler(ae.cfg),
		queue:    make(chan job, ae.queueSize),
		done:     make(chan struct{}),
	}
	ae.sessions[targetID] = s
	go ae.run(s)

	ae.logger.Info("session started", "target_id", targetID, "session_id", s.id)
	return s, nil
}

func (s *session) enqueue(j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionEnded
	}

	select {
	case s.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *session) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	s.saves.Wait()
}

func (ae *AnalyticsEngine) run(s *session) {
	defer close(s.done)
	defer s.sampler.Reset()

	for j := range s.queue {
		result, err := ae.processReading(s, j.reading)
		j.reply <- outcome{result: result, err: err}
	}
}

func (ae *AnalyticsEngine) processReading(s *session, reading models.SignalReading) (models.AnalysisResult, error) {
	if reading.ObservedAt.Before(s.lastObserved) {
		return models.AnalysisResult{}, ErrOutOfOrder
	}
	s.lastObserved = reading.ObservedAt

	ev := s.sampler.Evaluate(reading)

	result := models.AnalysisResult{
		TargetID:   s.targetID,
		SessionID:  s.id,
		RSSI:       reading.Strength,
		Admitted:   ev.Admitted,
		Mode:       string(ev.Mode),
		Samples:    ev.Samples,
		Mean:       ev.Mean,
		StdDev:     ev.StdDev,
		ZScore:     ev.ZScore,
		Command:    ev.Command,
		ObservedAt: reading.ObservedAt,
	}

	if ae.store != nil {
		s.saves.Add(1)
		go func(targetID string, res models.AnalysisResult) {
			defer s.saves.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := ae.store.SaveAnalysis(ctx, targetID, res); err != nil {
				ae.logger.Error("failed to save analysis", "target_id", targetID, "error", err)
			}
		}(s.targetID, result)
	}

	if ev.Command.IsPulse() {
		ae.logger.Debug("pulse",
			"target_id", s.targetID, "rssi", reading.Strength, "z_score", ev.ZScore,
			"mean", ev.Mean, "intensity", ev.Command.Intensity)

		if ae.onPulse != nil {
			ae.onPulse(s.targetID, result)
		}
	}

	return result, nil
}

// StopSession ends the target's session, clears its samples and deletes its
// snapshot. It reports whether a session existed. The session stays mapped
// until the snapshot is gone, so readings arriving meanwhile get
// ErrSessionEnded instead of starting a session whose first save would be
// deleted.
func (ae *AnalyticsEngine) StopSession(ctx context.Context, targetID string) bool {
	ae.mu.RLock()
	s, exists := ae.sessions[targetID]
	ae.mu.RUnlock()

	if !exists {
		return false
	}

	ae.end(ctx, s)

	ae.mu.Lock()
	if ae.sessions[targetID] == s {
		delete(ae.sessions, targetID)
	}
	ae.mu.Unlock()
	return true
}

func (ae *AnalyticsEngine) end(ctx context.Context, s *session) {
	s.ended.Do(func() {
		s.stop()
		if ae.store != nil {
			if err := ae.store.DeleteAnalysis(ctx, s.targetID); err != nil {
				ae.logger.Error("failed to delete analysis", "target_id", s.targetID, "error", err)
			}
		}
		if ae.onStop != nil {
			ae.onStop(s.targetID, s.id)
		}
		ae.logger.Info("session stopped", "target_id", s.targetID, "session_id", s.id)
	})
}

// Sessions returns the number of active sessions.
func (ae *AnalyticsEngine) Sessions() int {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	return len(ae.sessions)
}

// Close ends every session the way StopSession does. Further calls to
// Process fail with ErrEngineClosed.
func (ae *AnalyticsEngine) Close() {
	ae.mu.Lock()
	ae.closed = true
	sessions := ae.sessions
	ae.sessions = make(map[string]*session)
	ae.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range sessions {
		ae.end(ctx, s)
	}
}
