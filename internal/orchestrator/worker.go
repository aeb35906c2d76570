package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brandtune/songforge-api/internal/song"
)

// reconcile is the background reconciliation loop for one submitted task.
// It runs on a pool slot, sleeps a grace period before the first check
// (a fresh handle is rarely visible provider-side immediately), then polls
// on a fixed interval up to a bounded attempt count. A terminal provider
// status goes through Complete; transient fetch errors are logged and
// skipped. If the loop exhausts all attempts it exits silently and leaves
// the record PROCESSING: timeout-based failure belongs to the sweeper alone.
func (s *Service) reconcile(taskID string) {
	logger := s.logger.With(slog.String("task_id", taskID))
	ctx := context.Background()

	if !s.wait(s.graceDelay) {
		return
	}

	for attempt := 1; attempt <= s.maxPollAttempts; attempt++ {
		// The callback may already have won the race; check the record
		// before spending a provider call.
		rec, err := s.repo.FindByTaskID(ctx, taskID)
		if err != nil {
			if errors.Is(err, song.ErrSongNotFound) {
				logger.Warn("reconciliation stopped: song no longer known")
				return
			}
			logger.Error("reconciliation lookup failed", slog.String("error", err.Error()))
			return
		}
		if rec.Status.IsTerminal() {
			logger.Debug("reconciliation stopped: song already terminal",
				slog.String("status", string(rec.Status)),
			)
			return
		}

		result, err := s.client.FetchStatus(ctx, taskID)
		if err != nil {
			// Includes "task not yet visible": not a terminal failure,
			// just skip this iteration.
			logger.Debug("status fetch failed, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else if result.Status.IsTerminal() {
			if _, err := s.Complete(ctx, taskID, completionFromStatus(result), SourcePoll); err != nil {
				logger.Error("completion failed", slog.String("error", err.Error()))
			}
			return
		}

		if attempt < s.maxPollAttempts && !s.wait(s.pollInterval) {
			return
		}
	}

	logger.Warn("reconciliation exhausted without terminal status, leaving song for the expiry sweeper",
		slog.Int("attempts", s.maxPollAttempts),
	)
}

// wait sleeps for d, returning false if the pool is shutting down.
func (s *Service) wait(d time.Duration) bool {
	if d == 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-s.pool.Done():
		return false
	}
}
