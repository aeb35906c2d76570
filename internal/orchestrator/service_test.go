package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brandtune/songforge-api/internal/apperrors"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/song"
)

// fakeMuseClient is a scriptable in-memory provider client.
type fakeMuseClient struct {
	mu           sync.Mutex
	submitCalls  int
	statusCalls  int
	submitTaskID string
	submitErr    error
	statusResult muse.StatusResult
	statusErr    error
	credits      float64
	assetBody    string
}

func (f *fakeMuseClient) SubmitGeneration(_ context.Context, _ muse.GenerationSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitTaskID, nil
}

func (f *fakeMuseClient) FetchStatus(_ context.Context, _ string) (muse.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return muse.StatusResult{}, f.statusErr
	}
	return f.statusResult, nil
}

func (f *fakeMuseClient) FetchCredits(_ context.Context) (float64, error) {
	return f.credits, nil
}

func (f *fakeMuseClient) DownloadAsset(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.assetBody)), nil
}

func (f *fakeMuseClient) counts() (submits, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.statusCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, client muse.Client, opts ...ServiceOption) (*Service, song.Repository) {
	t.Helper()
	logger := testLogger()
	repo := song.NewMemoryRepository()
	pool := NewPool(logger)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	bus := NewEventBus(logger)
	svc := NewService(repo, client, pool, bus, logger, opts...)
	return svc, repo
}

func seedSong(t *testing.T, repo song.Repository, lyrics string) *song.Song {
	t.Helper()
	rec := song.New()
	rec.Title = "Neon Nights"
	rec.Style = "synthwave"
	rec.BrandName = "Glow Cosmetics"
	rec.Lyrics = lyrics
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return rec
}

func TestService_CreateSong(t *testing.T) {
	svc, repo := newTestService(t, &fakeMuseClient{})

	rec, err := svc.CreateSong(context.Background(), CreateSongInput{
		Title:     "Neon Nights",
		Style:     "synthwave",
		BrandName: "Glow Cosmetics",
		Lyrics:    "verse one",
	})
	if err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}
	if rec.Status != song.StatusPending {
		t.Errorf("status = %v, want %v", rec.Status, song.StatusPending)
	}

	stored, err := repo.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if stored.BrandName != "Glow Cosmetics" {
		t.Errorf("brand = %q, want %q", stored.BrandName, "Glow Cosmetics")
	}
}

func TestService_Submit(t *testing.T) {
	t.Run("success marks processing and stores task handle", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		// Long grace keeps the reconciliation worker quiet during the test.
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := seedSong(t, repo, "verse one")

		taskID, err := svc.Submit(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if taskID != "task-123" {
			t.Errorf("taskID = %q, want %q", taskID, "task-123")
		}

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusProcessing {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusProcessing)
		}
		if stored.TaskID != "task-123" {
			t.Errorf("stored taskID = %q, want %q", stored.TaskID, "task-123")
		}
	})

	t.Run("unknown song", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeMuseClient{submitTaskID: "task-123"})

		_, err := svc.Submit(context.Background(), "song-missing")
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("song without lyrics is rejected", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client)
		rec := seedSong(t, repo, "")

		_, err := svc.Submit(context.Background(), rec.ID)
		if !errors.Is(err, apperrors.ErrPreconditionFailed) {
			t.Errorf("expected ErrPreconditionFailed, got %v", err)
		}
		if submits, _ := client.counts(); submits != 0 {
			t.Errorf("provider called %d times, want 0", submits)
		}
	})

	t.Run("duplicate submission does not reach the provider", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("first Submit() error = %v", err)
		}
		_, err := svc.Submit(context.Background(), rec.ID)
		if !errors.Is(err, apperrors.ErrAlreadyInProgress) {
			t.Errorf("expected ErrAlreadyInProgress, got %v", err)
		}
		if submits, _ := client.counts(); submits != 1 {
			t.Errorf("provider called %d times, want 1", submits)
		}
	})

	t.Run("finished song cannot be resubmitted", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		applied, err := svc.Complete(context.Background(), "task-123", song.Completion{
			Status:   song.StatusCompleted,
			AudioURL: "https://cdn.example/track.mp3",
		}, SourcePoll)
		if err != nil || !applied {
			t.Fatalf("Complete() = (%v, %v), want (true, nil)", applied, err)
		}

		_, err = svc.Submit(context.Background(), rec.ID)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("provider rejection fails the record without retry", func(t *testing.T) {
		client := &fakeMuseClient{submitErr: muse.ErrUnauthorized}
		svc, repo := newTestService(t, client)
		rec := seedSong(t, repo, "verse one")

		_, err := svc.Submit(context.Background(), rec.ID)
		if !errors.Is(err, apperrors.ErrProviderUnauthorized) {
			t.Errorf("expected ErrProviderUnauthorized, got %v", err)
		}

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusFailed {
			t.Errorf("status = %v, want %v", stored.Status, song.StatusFailed)
		}
		if stored.TaskID != "" {
			t.Errorf("taskID = %q, want empty", stored.TaskID)
		}
		if submits, _ := client.counts(); submits != 1 {
			t.Errorf("provider called %d times, want 1", submits)
		}
	})
}

func TestService_Complete(t *testing.T) {
	completion := song.Completion{
		Status:          song.StatusCompleted,
		AudioURL:        "https://cdn.example/track.mp3",
		ImageURL:        "https://cdn.example/cover.jpg",
		DurationSeconds: 187.5,
	}

	t.Run("applies once and publishes one event", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := seedSong(t, repo, "verse one")
		events := svc.Bus().Subscribe()

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		applied, err := svc.Complete(context.Background(), "task-123", completion, SourceCallback)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if !applied {
			t.Fatal("first Complete() not applied")
		}

		applied, err = svc.Complete(context.Background(), "task-123", completion, SourcePoll)
		if err != nil {
			t.Fatalf("second Complete() error = %v", err)
		}
		if applied {
			t.Error("second Complete() applied, want no-op")
		}

		select {
		case evt := <-events:
			if evt.SongID != rec.ID || evt.Source != SourceCallback {
				t.Errorf("event = %+v, want song %s from callback", evt, rec.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("no completion event published")
		}
		select {
		case evt := <-events:
			t.Errorf("unexpected second event: %+v", evt)
		default:
		}

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.AudioURL != completion.AudioURL {
			t.Errorf("audio URL = %q, want %q", stored.AudioURL, completion.AudioURL)
		}
	})

	t.Run("concurrent completions race to exactly one apply", func(t *testing.T) {
		client := &fakeMuseClient{submitTaskID: "task-123"}
		svc, repo := newTestService(t, client, WithReconcileSchedule(time.Minute, time.Minute, 1))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		const racers = 32
		var wg sync.WaitGroup
		var appliedCount sync.Map
		var wins int64
		var winsMu sync.Mutex

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				applied, err := svc.Complete(context.Background(), "task-123", completion, SourcePoll)
				if err != nil {
					appliedCount.Store(i, err)
					return
				}
				if applied {
					winsMu.Lock()
					wins++
					winsMu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		appliedCount.Range(func(_, v any) bool {
			t.Errorf("Complete() error = %v", v)
			return true
		})
		if wins != 1 {
			t.Errorf("applied %d times, want exactly 1", wins)
		}
	})

	t.Run("unknown task handle is a no-op", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeMuseClient{})

		applied, err := svc.Complete(context.Background(), "task-unknown", completion, SourcePoll)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if applied {
			t.Error("Complete() applied for unknown task")
		}
	})
}

func TestService_Reconcile(t *testing.T) {
	t.Run("poll detects terminal status and completes", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{
				Status:          muse.StatusSuccess,
				AudioURL:        "https://cdn.example/track.mp3",
				DurationSeconds: 120,
			},
		}
		svc, repo := newTestService(t, client, WithReconcileSchedule(0, 5*time.Millisecond, 5))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		waitForStatus(t, repo, rec.ID, song.StatusCompleted)
		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.AudioURL != "https://cdn.example/track.mp3" {
			t.Errorf("audio URL = %q", stored.AudioURL)
		}
	})

	t.Run("provider failure status fails the song", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{
				Status:       muse.StatusGenerateFailed,
				ErrorMessage: "model refused the prompt",
			},
		}
		svc, repo := newTestService(t, client, WithReconcileSchedule(0, 5*time.Millisecond, 5))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		waitForStatus(t, repo, rec.ID, song.StatusFailed)
		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.ErrorMessage != "model refused the prompt" {
			t.Errorf("error message = %q", stored.ErrorMessage)
		}
	})

	t.Run("exhausted attempts leave the song processing", func(t *testing.T) {
		client := &fakeMuseClient{
			submitTaskID: "task-123",
			statusResult: muse.StatusResult{Status: muse.StatusPending},
		}
		svc, repo := newTestService(t, client, WithReconcileSchedule(0, time.Millisecond, 3))
		rec := seedSong(t, repo, "verse one")

		if _, err := svc.Submit(context.Background(), rec.ID); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		deadline := time.Now().Add(time.Second)
		for {
			if _, statuses := client.counts(); statuses >= 3 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("worker never exhausted its attempts")
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)

		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.Status != song.StatusProcessing {
			t.Errorf("status = %v, want %v (sweeper owns the timeout)", stored.Status, song.StatusProcessing)
		}
	})
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", muse.ErrUnauthorized, apperrors.ErrProviderUnauthorized},
		{"bad request", muse.ErrBadRequest, apperrors.ErrProviderBadRequest},
		{"missing task id", muse.ErrNoTaskIDReturned, apperrors.ErrProviderBadRequest},
		{"task not found", muse.ErrTaskNotFound, apperrors.ErrProviderTaskNotFound},
		{"retries exhausted", muse.ErrRetriesExhausted, apperrors.ErrProviderTransient},
		{"unknown", errors.New("boom"), apperrors.ErrProviderTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyProviderError("muse.submit", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyProviderError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func waitForStatus(t *testing.T, repo song.Repository, songID string, want song.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := repo.FindByID(context.Background(), songID)
		if err == nil && rec.Status == want {
			return
		}
		if time.Now().After(deadline) {
			last := song.Status("<missing>")
			if err == nil {
				last = rec.Status
			}
			t.Fatalf("song %s never reached %v (last: %v)", songID, want, last)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
