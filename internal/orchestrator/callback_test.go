package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/brandtune/songforge-api/internal/song"
)

func submitProcessingSong(t *testing.T, svc *Service, repo song.Repository) *song.Song {
	t.Helper()
	rec := seedSong(t, repo, "verse one")
	if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return rec
}

func completeCallback(taskID string) CallbackPayload {
	var p CallbackPayload
	p.Code = 200
	p.Msg = "All generated successfully."
	p.Data.CallbackType = callbackTypeComplete
	p.Data.TaskID = taskID
	p.Data.Tracks = []struct {
		AudioURL string  `json:"audio_url"`
		ImageURL string  `json:"image_url"`
		Duration float64 `json:"duration"`
	}{
		{AudioURL: "https://cdn.example/track.mp3", ImageURL: "https://cdn.example/cover.jpg", Duration: 201.3},
	}
	return p
}

func TestService_HandleCallback(t *testing.T) {
	t.Run("complete callback finishes the song", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := submitProcessingSong(t, svc, repo)

		svc.HandleCallback(context.Background(), completeCallback("task-123"))

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusCompleted {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusCompleted)
		}
		if stored.AudioURL != "https://cdn.example/track.mp3" {
			t.Errorf("audio URL = %q", stored.AudioURL)
		}
		if stored.DurationSeconds != 201.3 {
			t.Errorf("duration = %v, want 201.3", stored.DurationSeconds)
		}
	})

	t.Run("error callback fails the song with the provider message", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := submitProcessingSong(t, svc, repo)

		var p CallbackPayload
		p.Code = 400
		p.Msg = "lyrics contain prohibited words"
		p.Data.CallbackType = callbackTypeError
		p.Data.TaskID = "task-123"
		svc.HandleCallback(context.Background(), p)

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusFailed {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusFailed)
		}
		if stored.ErrorMessage != "lyrics contain prohibited words" {
			t.Errorf("error message = %q", stored.ErrorMessage)
		}
	})

	t.Run("intermediate callbacks leave the song processing", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := submitProcessingSong(t, svc, repo)

		for _, typ := range []string{callbackTypeText, callbackTypeFirst} {
			var p CallbackPayload
			p.Code = 200
			p.Data.CallbackType = typ
			p.Data.TaskID = "task-123"
			svc.HandleCallback(context.Background(), p)
		}

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusProcessing {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusProcessing)
		}
	})

	t.Run("callback for unknown task is tolerated", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeMuseClient{})
		// Must not panic or error; the provider is always acked.
		svc.HandleCallback(context.Background(), completeCallback("task-unknown"))
	})

	t.Run("duplicate callback is a no-op", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := submitProcessingSong(t, svc, repo)
		events := svc.Bus().Subscribe()

		svc.HandleCallback(context.Background(), completeCallback("task-123"))
		svc.HandleCallback(context.Background(), completeCallback("task-123"))

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusCompleted {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusCompleted)
		}

		if n := len(events); n != 1 {
			t.Errorf("published %d events, want 1", n)
		}
	})
}

func TestCompletionFromCallback(t *testing.T) {
	t.Run("complete with no tracks degrades to failure", func(t *testing.T) {
		var p CallbackPayload
		p.Code = 200
		p.Data.CallbackType = callbackTypeComplete
		p.Data.TaskID = "task-123"

		c := completionFromCallback(p)
		if c.Status != song.StatusFailed {
			t.Errorf("status = %v, want %v", c.Status, song.StatusFailed)
		}
	})

	t.Run("failure without message gets a synthesized one", func(t *testing.T) {
		var p CallbackPayload
		p.Code = 500
		p.Data.CallbackType = callbackTypeError
		p.Data.TaskID = "task-123"

		c := completionFromCallback(p)
		if c.ErrorMessage == "" {
			t.Error("expected a synthesized error message")
		}
	})
}
