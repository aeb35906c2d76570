package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brandtune/songforge-api/internal/apperrors"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/song"
)

func newTestStatusService(t *testing.T, client *fakeMuseClient, opts ...StatusOption) (*StatusService, *Service, song.Repository) {
	t.Helper()
	svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
	status := NewStatusService(repo, client, svc, testLogger(), opts...)
	return status, svc, repo
}

func TestStatusService_GetStatus(t *testing.T) {
	t.Run("unknown song", func(t *testing.T) {
		status, _, _ := newTestStatusService(t, &fakeMuseClient{})

		_, err := status.GetStatus(context.Background(), "song-missing", true)
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("fast mode never calls the provider", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		view, err := status.GetStatus(context.Background(), rec.ID, true)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State != song.StatusProcessing {
			t.Errorf("state = %v, want %v", view.State, song.StatusProcessing)
		}
		if view.PollIntervalSeconds == 0 {
			t.Error("processing view should carry a poll interval hint")
		}
		if _, statuses := client.counts(); statuses != 0 {
			t.Errorf("provider called %d times in fast mode, want 0", statuses)
		}
	})

	t.Run("full mode applies a terminal provider status", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{
				Status:          muse.StatusSuccess,
				AudioURL:        "https://cdn.example/track.mp3",
				DurationSeconds: 150,
			},
		}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		view, err := status.GetStatus(context.Background(), rec.ID, false)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State != song.StatusCompleted {
			t.Errorf("state = %v, want %v", view.State, song.StatusCompleted)
		}
		if view.AudioURL != "https://cdn.example/track.mp3" {
			t.Errorf("audio URL = %q", view.AudioURL)
		}
		if view.Progress != 100 {
			t.Errorf("progress = %d, want 100", view.Progress)
		}

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusCompleted {
			t.Errorf("persisted state = %v, want %v", stored.Status, song.StatusCompleted)
		}
	})

	t.Run("full mode degrades to persisted state on provider error", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusErr:    muse.ErrServerError,
		}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		view, err := status.GetStatus(context.Background(), rec.ID, false)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State != song.StatusProcessing {
			t.Errorf("state = %v, want %v", view.State, song.StatusProcessing)
		}
	})

	t.Run("full mode keeps polling on non-terminal provider status", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{Status: muse.StatusPending},
		}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		view, err := status.GetStatus(context.Background(), rec.ID, false)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State != song.StatusProcessing {
			t.Errorf("state = %v, want %v", view.State, song.StatusProcessing)
		}
	})

	t.Run("terminal songs never trigger a provider call", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)
		if _, err := svc.Complete(context.Background(), "task-123", song.Completion{
			Status:   song.StatusCompleted,
			AudioURL: "https://cdn.example/track.mp3",
		}, SourceCallback); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		view, err := status.GetStatus(context.Background(), rec.ID, false)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State != song.StatusCompleted {
			t.Errorf("state = %v, want %v", view.State, song.StatusCompleted)
		}
		if _, statuses := client.counts(); statuses != 0 {
			t.Errorf("provider called %d times for terminal song, want 0", statuses)
		}
	})

	t.Run("cached view is served without repository or provider work", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{Status: muse.StatusPending},
		}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		if _, err := status.GetStatus(context.Background(), rec.ID, false); err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if _, err := status.GetStatus(context.Background(), rec.ID, false); err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if _, statuses := client.counts(); statuses != 1 {
			t.Errorf("provider called %d times, want 1 (second read cached)", statuses)
		}
	})

	t.Run("invalidate forces a fresh read", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{Status: muse.StatusPending},
		}
		status, svc, repo := newTestStatusService(t, client)
		rec := submitProcessingSong(t, svc, repo)

		if _, err := status.GetStatus(context.Background(), rec.ID, false); err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		status.Invalidate(rec.ID)
		if _, err := status.GetStatus(context.Background(), rec.ID, false); err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if _, statuses := client.counts(); statuses != 2 {
			t.Errorf("provider called %d times, want 2 after invalidation", statuses)
		}
	})
}

func TestStatusService_List(t *testing.T) {
	client := &fakeMuseClient{submitTaskID: "task-123"}
	status, svc, _ := newTestStatusService(t, client)

	if _, err := svc.CreateSong(context.Background(), CreateSongInput{Title: "One", Lyrics: "la"}); err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}
	if _, err := svc.CreateSong(context.Background(), CreateSongInput{Title: "Two", Lyrics: "la"}); err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}

	views, err := status.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2", len(views))
	}

	// The list cache keeps its own TTL: a song created now is invisible
	// until it expires.
	if _, err := svc.CreateSong(context.Background(), CreateSongInput{Title: "Three", Lyrics: "la"}); err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}
	views, err = status.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 2 {
		t.Errorf("len(views) = %d, want 2 from cache", len(views))
	}
}

func TestStatusService_Progress(t *testing.T) {
	status := NewStatusService(song.NewMemoryRepository(), &fakeMuseClient{}, nil, testLogger())

	t.Run("pending is zero", func(t *testing.T) {
		rec := song.New()
		if got := status.estimateProgress(rec); got != 0 {
			t.Errorf("progress = %d, want 0", got)
		}
	})

	t.Run("processing stays within 5 and 95", func(t *testing.T) {
		for _, age := range []time.Duration{0, time.Minute, time.Hour} {
			rec := song.New()
			rec.Status = song.StatusProcessing
			rec.UpdatedAt = time.Now().Add(-age)
			got := status.estimateProgress(rec)
			if got < 5 || got > 95 {
				t.Errorf("progress at age %v = %d, want within [5, 95]", age, got)
			}
		}
	})

	t.Run("terminal is one hundred", func(t *testing.T) {
		for _, st := range []song.Status{song.StatusCompleted, song.StatusFailed} {
			rec := song.New()
			rec.Status = st
			if got := status.estimateProgress(rec); got != 100 {
				t.Errorf("progress for %v = %d, want 100", st, got)
			}
		}
	})
}

func TestStatusService_WatchCompletions(t *testing.T) {
	client := &fakeMuseClient{
		submitTaskID: "task-123",
		statusResult: muse.StatusResult{Status: muse.StatusPending},
	}
	status, svc, repo := newTestStatusService(t, client)
	rec := submitProcessingSong(t, svc, repo)

	done := make(chan struct{})
	events := svc.Bus().Subscribe()
	go status.WatchCompletions(done, events)
	defer close(done)

	// Warm the per-song cache, then complete via callback.
	if _, err := status.GetStatus(context.Background(), rec.ID, true); err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	svc.HandleCallback(context.Background(), completeCallback("task-123"))

	deadline := time.Now().Add(time.Second)
	for {
		view, err := status.GetStatus(context.Background(), rec.ID, true)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if view.State == song.StatusCompleted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache never invalidated, state still %v", view.State)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
