// Package orchestrator coordinates asynchronous song generation: it submits
// jobs to the Muse provider, reconciles the two completion signals (active
// polling and inbound callbacks) through an idempotent completion handler,
// serves cached status views, and expires jobs that never resolve.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandtune/songforge-api/internal/apperrors"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/observability"
	"github.com/brandtune/songforge-api/internal/song"
)

// Completion sources, recorded on events and metrics.
const (
	SourcePoll     = "poll"
	SourceCallback = "callback"
	SourceStatus   = "status"
	SourceSweeper  = "sweeper"
)

// CreateSongInput contains the input for creating a song record.
type CreateSongInput struct {
	Title            string
	Style            string
	BrandName        string
	BrandDescription string
	Lyrics           string
}

// Service orchestrates the generation lifecycle: record creation,
// submission, reconciliation and idempotent completion.
type Service struct {
	repo    song.Repository
	client  muse.Client
	pool    *Pool
	bus     *EventBus
	metrics *observability.Metrics
	logger  *slog.Logger

	callbackURL     string
	graceDelay      time.Duration
	pollInterval    time.Duration
	maxPollAttempts int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCallbackURL sets the webhook URL passed to the provider on submission.
func WithCallbackURL(u string) ServiceOption {
	return func(s *Service) { s.callbackURL = u }
}

// WithReconcileSchedule tunes the reconciliation worker loop: the grace
// delay before the first check, the interval between checks and the
// bounded attempt count.
func WithReconcileSchedule(grace, interval time.Duration, attempts int) ServiceOption {
	return func(s *Service) {
		if grace >= 0 {
			s.graceDelay = grace
		}
		if interval > 0 {
			s.pollInterval = interval
		}
		if attempts > 0 {
			s.maxPollAttempts = attempts
		}
	}
}

// WithMetrics attaches application metrics.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the orchestration service.
func NewService(repo song.Repository, client muse.Client, pool *Pool, bus *EventBus, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:            repo,
		client:          client,
		pool:            pool,
		bus:             bus,
		logger:          logger,
		graceDelay:      30 * time.Second,
		pollInterval:    15 * time.Second,
		maxPollAttempts: 40,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus returns the completion event bus.
func (s *Service) Bus() *EventBus { return s.bus }

// CreateSong creates a new song record in PENDING state.
func (s *Service) CreateSong(ctx context.Context, input CreateSongInput) (*song.Song, error) {
	rec := song.New()
	rec.Title = input.Title
	rec.Style = input.Style
	rec.BrandName = input.BrandName
	rec.BrandDescription = input.BrandDescription
	rec.Lyrics = input.Lyrics

	s.logger.Info("creating song record",
		slog.String("song_id", rec.ID),
		slog.String("brand", input.BrandName),
		slog.String("style", input.Style),
	)

	if err := s.repo.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save song",
			slog.String("song_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Internal("song.save", err)
	}
	return rec, nil
}

// Submit submits the song to the generation provider and hands the task
// handle to a background reconciliation worker. Errors propagate
// synchronously to the caller; the worker's outcome surfaces only through
// the song record.
func (s *Service) Submit(ctx context.Context, songID string) (string, error) {
	rec, err := s.repo.FindByID(ctx, songID)
	if err != nil {
		if errors.Is(err, song.ErrSongNotFound) {
			return "", apperrors.NotFound("song", songID)
		}
		return "", apperrors.Internal("song.find", err)
	}

	if rec.Lyrics == "" {
		return "", apperrors.PreconditionFailed("song", "song has no lyrics yet; generate lyrics before submitting")
	}
	switch rec.Status {
	case song.StatusProcessing:
		return "", apperrors.AlreadyInProgress("song", songID)
	case song.StatusCompleted, song.StatusFailed:
		return "", apperrors.Validation(fmt.Sprintf("song %s generation already finished (%s)", songID, rec.Status))
	}

	taskID, err := s.client.SubmitGeneration(ctx, muse.GenerationSpec{
		Lyrics:      rec.Lyrics,
		Style:       rec.Style,
		Title:       rec.Title,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.metrics.RecordSubmission(ctx, false)
		appErr := classifyProviderError("muse.submit", err)
		// A failed submission must not leave the record pre-terminal.
		if failErr := s.repo.MarkFailed(ctx, songID, appErr.Error()); failErr != nil {
			s.logger.Error("failed to mark song failed after submission error",
				slog.String("song_id", songID),
				slog.String("error", failErr.Error()),
			)
		}
		s.logger.Warn("generation submission failed",
			slog.String("song_id", songID),
			slog.String("error", err.Error()),
		)
		return "", appErr
	}

	if err := s.repo.MarkProcessing(ctx, songID, taskID); err != nil {
		return "", apperrors.Internal("song.markProcessing", err)
	}
	s.metrics.RecordSubmission(ctx, true)

	s.logger.Info("generation submitted",
		slog.String("song_id", songID),
		slog.String("task_id", taskID),
	)

	// Fire and forget: the worker pool runs the task inline at worst,
	// so scheduling cannot fail, and the sweeper backstops the record
	// even if the loop dies.
	s.pool.Submit(func() {
		s.reconcile(taskID)
	})

	return taskID, nil
}

// Complete idempotently applies a terminal outcome to the song carrying
// the task handle. Safe under concurrent invocation from the worker, the
// callback receiver and the status service: exactly one caller performs
// the terminal write, the rest observe a no-op.
func (s *Service) Complete(ctx context.Context, taskID string, c song.Completion, source string) (bool, error) {
	applied, err := s.repo.CompleteIfProcessing(ctx, taskID, c)
	if err != nil {
		return false, apperrors.Internal("song.complete", err)
	}
	if !applied {
		s.logger.Debug("completion ignored: song unknown or already terminal",
			slog.String("task_id", taskID),
			slog.String("source", source),
		)
		return false, nil
	}

	s.metrics.RecordCompletion(ctx, source, c.Status == song.StatusCompleted)

	rec, err := s.repo.FindByTaskID(ctx, taskID)
	if err != nil {
		s.logger.Error("completed song vanished", slog.String("task_id", taskID))
		return true, nil
	}

	s.logger.Info("generation completed",
		slog.String("song_id", rec.ID),
		slog.String("task_id", taskID),
		slog.String("status", string(c.Status)),
		slog.String("source", source),
	)

	s.bus.Publish(CompletionEvent{
		SongID:          rec.ID,
		TaskID:          taskID,
		Status:          c.Status,
		AudioURL:        c.AudioURL,
		ImageURL:        c.ImageURL,
		DurationSeconds: c.DurationSeconds,
		ErrorMessage:    c.ErrorMessage,
		Source:          source,
		OccurredAt:      time.Now(),
	})
	return true, nil
}

// classifyProviderError maps a muse client error to the application error
// taxonomy, keeping retryability visible to callers.
func classifyProviderError(op string, err error) error {
	switch {
	case errors.Is(err, muse.ErrUnauthorized):
		return apperrors.Provider(apperrors.ErrProviderUnauthorized, op, err)
	case errors.Is(err, muse.ErrBadRequest), errors.Is(err, muse.ErrNoTaskIDReturned):
		return apperrors.Provider(apperrors.ErrProviderBadRequest, op, err)
	case errors.Is(err, muse.ErrTaskNotFound):
		return apperrors.Provider(apperrors.ErrProviderTaskNotFound, op, err)
	default:
		return apperrors.Provider(apperrors.ErrProviderTransient, op, err)
	}
}
