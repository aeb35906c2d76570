package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brandtune/songforge-api/internal/song"
)

// fakeStorage records saved artifacts in memory.
type fakeStorage struct {
	mu    sync.Mutex
	saved map[string]string // key -> content
	err   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{saved: make(map[string]string)}
}

func (f *fakeStorage) SaveArtifact(_ context.Context, key string, data io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.saved[key] = string(content)
	return "https://archive.example/" + key, nil
}

func TestArchiver_Archive(t *testing.T) {
	repo := song.NewMemoryRepository()
	client := &fakeMuseClient{assetBody: "audio bytes"}
	store := newFakeStorage()
	archiver := NewArchiver(repo, client, store, testLogger())

	rec := seedProcessingSong(t, repo, "task-123", time.Now())

	url, err := archiver.Archive(context.Background(), rec.ID, "https://cdn.example/tracks/final.mp3")
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	wantKey := rec.ID + "/final.mp3"
	if url != "https://archive.example/"+wantKey {
		t.Errorf("url = %q", url)
	}
	store.mu.Lock()
	if store.saved[wantKey] != "audio bytes" {
		t.Errorf("stored content = %q", store.saved[wantKey])
	}
	store.mu.Unlock()

	stored, _ := repo.FindByID(context.Background(), rec.ID)
	if stored.ArchiveURL != url {
		t.Errorf("archive URL on record = %q, want %q", stored.ArchiveURL, url)
	}
}

func TestArchiver_HandlesCompletionEvents(t *testing.T) {
	repo := song.NewMemoryRepository()
	client := &fakeMuseClient{assetBody: "audio bytes"}
	store := newFakeStorage()
	bus := NewEventBus(testLogger())
	archiver := NewArchiver(repo, client, store, testLogger())

	rec := seedProcessingSong(t, repo, "task-123", time.Now())

	archiver.Start(bus.Subscribe())
	defer archiver.Stop()

	bus.Publish(CompletionEvent{
		SongID:   rec.ID,
		TaskID:   "task-123",
		Status:   song.StatusCompleted,
		AudioURL: "https://cdn.example/tracks/final.mp3",
		Source:   SourceCallback,
	})

	deadline := time.Now().Add(time.Second)
	for {
		stored, _ := repo.FindByID(context.Background(), rec.ID)
		if stored.ArchiveURL != "" {
			if !strings.HasPrefix(stored.ArchiveURL, "https://archive.example/") {
				t.Errorf("archive URL = %q", stored.ArchiveURL)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("artifact never archived")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestArchiver_IgnoresFailuresAndEmptyAssets(t *testing.T) {
	repo := song.NewMemoryRepository()
	client := &fakeMuseClient{assetBody: "audio bytes"}
	store := newFakeStorage()
	archiver := NewArchiver(repo, client, store, testLogger())

	rec := seedProcessingSong(t, repo, "task-123", time.Now())

	archiver.handle(CompletionEvent{
		SongID: rec.ID,
		Status: song.StatusFailed,
	})
	archiver.handle(CompletionEvent{
		SongID: rec.ID,
		Status: song.StatusCompleted,
		// No audio URL: nothing to mirror.
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 0 {
		t.Errorf("saved %d artifacts, want 0", len(store.saved))
	}
}

func TestArchiveKey(t *testing.T) {
	tests := []struct {
		name     string
		assetURL string
		want     string
	}{
		{"cdn path", "https://cdn.example/tracks/final.mp3", "song-1/final.mp3"},
		{"bare host", "https://cdn.example/", "song-1/audio.mp3"},
		{"empty", "", "song-1/audio.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := archiveKey("song-1", tt.assetURL); got != tt.want {
				t.Errorf("archiveKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
