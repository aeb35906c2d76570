package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brandtune/songforge-api/internal/observability"
	"github.com/brandtune/songforge-api/internal/song"
)

// expiredMessage is recorded on songs the sweeper times out.
const expiredMessage = "generation timed out"

// Sweeper is the sole timeout authority. On every tick it force-fails
// PROCESSING songs whose last update is older than the configured age,
// covering lost callbacks and workers that gave up polling.
type Sweeper struct {
	repo    song.Repository
	bus     *EventBus
	metrics *observability.Metrics
	logger  *slog.Logger

	interval time.Duration
	maxAge   time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepSchedule sets the tick interval and maximum processing age.
func WithSweepSchedule(interval, maxAge time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = interval
		s.maxAge = maxAge
	}
}

// WithSweeperMetrics attaches application metrics.
func WithSweeperMetrics(m *observability.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper creates a sweeper over the given repository and event bus.
func NewSweeper(repo song.Repository, bus *EventBus, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		repo:     repo,
		bus:      bus,
		logger:   logger,
		interval: 5 * time.Minute,
		maxAge:   30 * time.Minute,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep(context.Background())
			}
		}
	}()
	s.logger.Info("expiry sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("max_age", s.maxAge),
	)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Sweep runs one pass, failing every PROCESSING song older than the
// configured age and emitting a completion event per expired song.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	expired, err := s.repo.FailProcessingOlderThan(ctx, cutoff, expiredMessage)
	if err != nil {
		s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
		return
	}
	if len(expired) == 0 {
		return
	}

	s.metrics.RecordSweeperExpired(ctx, int64(len(expired)))
	for _, rec := range expired {
		s.logger.Warn("song expired by sweeper",
			slog.String("song_id", rec.ID),
			slog.String("task_id", rec.TaskID),
			slog.Time("updated_at", rec.UpdatedAt),
		)
		s.bus.Publish(CompletionEvent{
			SongID:       rec.ID,
			TaskID:       rec.TaskID,
			Status:       song.StatusFailed,
			ErrorMessage: expiredMessage,
			Source:       SourceSweeper,
			OccurredAt:   time.Now(),
		})
	}
}
