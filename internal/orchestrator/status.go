package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brandtune/songforge-api/internal/apperrors"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/observability"
	"github.com/brandtune/songforge-api/internal/song"
)

// Cache shapes, one per query pattern, each with its own TTL.
const (
	cacheShapeQuick = "quick"
	cacheShapeByID  = "by_id"
	cacheShapeList  = "list"
)

// listCacheKey is the single key under which the list view is cached.
const listCacheKey = "all"

// StatusView is the client-facing read model for one song.
type StatusView struct {
	SongID          string
	TaskID          string
	State           song.Status
	Message         string
	Progress        int // 0-100, estimated from elapsed time
	AudioURL        string
	ImageURL        string
	ArchiveURL      string
	DurationSeconds float64
	ErrorMessage    string

	// Polling hints for the client.
	PollIntervalSeconds int
	PollExpiresAt       time.Time
}

// Completer applies a terminal outcome exactly once per task handle.
// Implemented by Service; the status service routes provider-observed
// changes through it so full-mode reads share the same idempotency guard.
type Completer interface {
	Complete(ctx context.Context, taskID string, c song.Completion, source string) (bool, error)
}

// StatusService is the client-facing read path. Fast mode reads only the
// persisted record behind a short-TTL cache; full mode adds a live
// provider check while the song is PROCESSING. Terminal states
// short-circuit both modes to a DB-only read.
type StatusService struct {
	repo      song.Repository
	client    muse.Client
	completer Completer
	metrics   *observability.Metrics
	logger    *slog.Logger

	quickCache *ttlCache[StatusView]
	byIDCache  *ttlCache[StatusView]
	listCache  *ttlCache[[]StatusView]

	pollInterval     time.Duration
	pollWindow       time.Duration // how long after the last update polling remains useful
	expectedDuration time.Duration // typical provider turnaround, drives the progress estimate
}

// StatusOption configures a StatusService.
type StatusOption func(*StatusService)

// WithCacheTTLs sets the TTL per cache shape.
func WithCacheTTLs(quick, byID, list time.Duration) StatusOption {
	return func(s *StatusService) {
		s.quickCache = newTTLCache[StatusView](quick)
		s.byIDCache = newTTLCache[StatusView](byID)
		s.listCache = newTTLCache[[]StatusView](list)
	}
}

// WithPollingHints tunes the client polling hints.
func WithPollingHints(interval, window time.Duration) StatusOption {
	return func(s *StatusService) {
		s.pollInterval = interval
		s.pollWindow = window
	}
}

// WithStatusMetrics attaches application metrics.
func WithStatusMetrics(m *observability.Metrics) StatusOption {
	return func(s *StatusService) { s.metrics = m }
}

// NewStatusService creates the status query service.
func NewStatusService(repo song.Repository, client muse.Client, completer Completer, logger *slog.Logger, opts ...StatusOption) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StatusService{
		repo:             repo,
		client:           client,
		completer:        completer,
		logger:           logger,
		quickCache:       newTTLCache[StatusView](3 * time.Second),
		byIDCache:        newTTLCache[StatusView](10 * time.Second),
		listCache:        newTTLCache[[]StatusView](30 * time.Second),
		pollInterval:     5 * time.Second,
		pollWindow:       30 * time.Minute,
		expectedDuration: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStatus returns the status view for a song.
// Fast mode serves high-frequency client polling from the persisted record
// only; full mode refreshes a PROCESSING song against the provider.
func (s *StatusService) GetStatus(ctx context.Context, songID string, fast bool) (StatusView, error) {
	shape := cacheShapeByID
	cache := s.byIDCache
	if fast {
		shape = cacheShapeQuick
		cache = s.quickCache
	}

	if view, ok := cache.get(songID); ok {
		s.metrics.RecordCacheHit(ctx, shape)
		return view, nil
	}
	s.metrics.RecordCacheMiss(ctx, shape)

	rec, err := s.repo.FindByID(ctx, songID)
	if err != nil {
		if errors.Is(err, song.ErrSongNotFound) {
			return StatusView{}, apperrors.NotFound("song", songID)
		}
		return StatusView{}, apperrors.Internal("song.find", err)
	}

	// Terminal records never warrant another provider call.
	if !fast && rec.Status == song.StatusProcessing {
		rec = s.refreshFromProvider(ctx, rec)
	}

	view := s.buildView(rec)
	cache.set(songID, view)
	return view, nil
}

// List returns status views for all songs behind the list cache.
func (s *StatusService) List(ctx context.Context) ([]StatusView, error) {
	if views, ok := s.listCache.get(listCacheKey); ok {
		s.metrics.RecordCacheHit(ctx, cacheShapeList)
		return views, nil
	}
	s.metrics.RecordCacheMiss(ctx, cacheShapeList)

	songs, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Internal("song.list", err)
	}
	views := make([]StatusView, 0, len(songs))
	for _, rec := range songs {
		views = append(views, s.buildView(rec))
	}
	s.listCache.set(listCacheKey, views)
	return views, nil
}

// Invalidate evicts the per-song cache entries. Called on completion
// events; the list cache deliberately keeps its own TTL.
func (s *StatusService) Invalidate(songID string) {
	s.quickCache.invalidate(songID)
	s.byIDCache.invalidate(songID)
}

// WatchCompletions invalidates per-song caches as completion events
// arrive. It returns when the event channel closes or done is closed.
func (s *StatusService) WatchCompletions(done <-chan struct{}, events <-chan CompletionEvent) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.Invalidate(evt.SongID)
		}
	}
}

// refreshFromProvider performs the full-mode live check. A provider
// failure degrades to the persisted record rather than erroring out.
func (s *StatusService) refreshFromProvider(ctx context.Context, rec *song.Song) *song.Song {
	result, err := s.client.FetchStatus(ctx, rec.TaskID)
	if err != nil {
		s.logger.Debug("live status fetch failed, serving persisted state",
			slog.String("song_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return rec
	}
	if !result.Status.IsTerminal() {
		return rec
	}

	// Route the observed change through the completion handler so the
	// write shares the idempotency guard with the worker and callback.
	if _, err := s.completer.Complete(ctx, rec.TaskID, completionFromStatus(result), SourceStatus); err != nil {
		s.logger.Error("completion from status refresh failed",
			slog.String("song_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return rec
	}

	fresh, err := s.repo.FindByID(ctx, rec.ID)
	if err != nil {
		return rec
	}
	return fresh
}

// buildView derives the client-facing view from the persisted record.
func (s *StatusService) buildView(rec *song.Song) StatusView {
	view := StatusView{
		SongID:          rec.ID,
		TaskID:          rec.TaskID,
		State:           rec.Status,
		Message:         statusMessage(rec.Status),
		Progress:        s.estimateProgress(rec),
		AudioURL:        rec.AudioURL,
		ImageURL:        rec.ImageURL,
		ArchiveURL:      rec.ArchiveURL,
		DurationSeconds: rec.DurationSeconds,
		ErrorMessage:    rec.ErrorMessage,
	}

	if rec.Status.IsTerminal() {
		view.PollExpiresAt = time.Now()
		return view
	}
	view.PollIntervalSeconds = int(s.pollInterval.Seconds())
	view.PollExpiresAt = rec.UpdatedAt.Add(s.pollWindow)
	return view
}

// estimateProgress derives a numeric progress estimate from elapsed time.
// The provider reports no progress of its own.
func (s *StatusService) estimateProgress(rec *song.Song) int {
	switch rec.Status {
	case song.StatusCompleted, song.StatusFailed:
		return 100
	case song.StatusPending:
		return 0
	}
	elapsed := time.Since(rec.UpdatedAt)
	progress := int(float64(elapsed) / float64(s.expectedDuration) * 90)
	if progress > 95 {
		progress = 95
	}
	if progress < 5 {
		progress = 5
	}
	return progress
}

// statusMessage maps a lifecycle state to a human status message.
// Clients never see raw provider errors.
func statusMessage(status song.Status) string {
	switch status {
	case song.StatusPending:
		return "Song accepted, waiting for generation to start"
	case song.StatusProcessing:
		return "Your song is being generated"
	case song.StatusCompleted:
		return "Your song is ready"
	case song.StatusFailed:
		return "Song generation failed"
	default:
		return string(status)
	}
}
