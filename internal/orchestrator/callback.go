package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/song"
)

// Callback types posted by the Muse provider.
const (
	callbackTypeText     = "text"     // lyrics/text stage finished
	callbackTypeFirst    = "first"    // first track ready, generation continuing
	callbackTypeComplete = "complete" // all tracks ready
	callbackTypeError    = "error"
)

// CallbackPayload is the webhook body the provider posts on task progress.
type CallbackPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		CallbackType string `json:"callbackType"`
		TaskID       string `json:"task_id"`
		Tracks       []struct {
			AudioURL string  `json:"audio_url"`
			ImageURL string  `json:"image_url"`
			Duration float64 `json:"duration"`
		} `json:"data"`
	} `json:"data"`
}

// HandleCallback processes an inbound provider webhook. It never returns
// an error to the HTTP layer: the provider is always acked, and internal
// hiccups are logged rather than turned into provider-side retry storms.
// Callbacks for unknown or already-terminal task handles are no-ops.
func (s *Service) HandleCallback(ctx context.Context, payload CallbackPayload) {
	logger := s.logger.With(
		slog.String("task_id", payload.Data.TaskID),
		slog.String("callback_type", payload.Data.CallbackType),
	)

	if payload.Data.TaskID == "" {
		logger.Warn("callback without task handle ignored")
		return
	}

	switch payload.Data.CallbackType {
	case callbackTypeText, callbackTypeFirst:
		// Intermediate progress: the song stays PROCESSING.
		logger.Debug("intermediate callback received")
		return
	case callbackTypeComplete, callbackTypeError, "":
	default:
		logger.Warn("unknown callback type ignored")
		return
	}

	c := completionFromCallback(payload)
	applied, err := s.Complete(ctx, payload.Data.TaskID, c, SourceCallback)
	if err != nil {
		logger.Error("callback completion failed", slog.String("error", err.Error()))
		return
	}
	if !applied {
		logger.Info("callback for unknown or terminal song ignored")
	}
}

// completionFromCallback maps a webhook payload into the completion shape
// shared with the reconciliation worker.
func completionFromCallback(payload CallbackPayload) song.Completion {
	if payload.Code == 200 && payload.Data.CallbackType == callbackTypeComplete && len(payload.Data.Tracks) > 0 {
		track := payload.Data.Tracks[0]
		return song.Completion{
			Status:          song.StatusCompleted,
			AudioURL:        track.AudioURL,
			ImageURL:        track.ImageURL,
			DurationSeconds: track.Duration,
		}
	}

	msg := payload.Msg
	if msg == "" {
		msg = fmt.Sprintf("generation failed (provider code %d)", payload.Code)
	}
	return song.Completion{
		Status:       song.StatusFailed,
		ErrorMessage: msg,
	}
}

// completionFromStatus maps a provider status fetch into the shared
// completion shape. Only call it for terminal statuses.
func completionFromStatus(result muse.StatusResult) song.Completion {
	if result.Status == muse.StatusSuccess {
		return song.Completion{
			Status:          song.StatusCompleted,
			AudioURL:        result.AudioURL,
			ImageURL:        result.ImageURL,
			DurationSeconds: result.DurationSeconds,
		}
	}

	msg := result.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("generation failed (provider status %s)", result.Status)
	}
	return song.Completion{
		Status:       song.StatusFailed,
		ErrorMessage: msg,
	}
}
