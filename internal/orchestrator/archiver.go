package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/song"
	"github.com/brandtune/songforge-api/internal/storage"
)

// Archiver mirrors generated artifacts into durable storage. Provider
// CDN links expire after a retention window, so every successful
// completion event triggers a copy of the audio track.
type Archiver struct {
	repo    song.Repository
	client  muse.Client
	store   storage.Storage
	logger  *slog.Logger
	timeout time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewArchiver creates an archiver writing to the given storage backend.
func NewArchiver(repo song.Repository, client muse.Client, store storage.Storage, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		repo:    repo,
		client:  client,
		store:   store,
		logger:  logger,
		timeout: 2 * time.Minute,
		stopCh:  make(chan struct{}),
	}
}

// Start consumes completion events from the given subscription until
// Stop is called or the channel closes.
func (a *Archiver) Start(events <-chan CompletionEvent) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.stopCh:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				a.handle(evt)
			}
		}
	}()
}

// Stop halts event consumption and waits for an in-flight copy.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Archiver) handle(evt CompletionEvent) {
	if evt.Status != song.StatusCompleted || evt.AudioURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	url, err := a.Archive(ctx, evt.SongID, evt.AudioURL)
	if err != nil {
		// Archival failure never affects the song's terminal state. The
		// provider link stays usable until its retention window closes.
		a.logger.Error("artifact archival failed",
			slog.String("song_id", evt.SongID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("artifact archived",
		slog.String("song_id", evt.SongID),
		slog.String("archive_url", url),
	)
}

// Archive copies one audio artifact into durable storage and records
// the resulting URL on the song.
func (a *Archiver) Archive(ctx context.Context, songID, assetURL string) (string, error) {
	body, err := a.client.DownloadAsset(ctx, assetURL)
	if err != nil {
		return "", fmt.Errorf("download asset: %w", err)
	}
	defer func() { _ = body.Close() }()

	key := archiveKey(songID, assetURL)
	url, err := a.store.SaveArtifact(ctx, key, body)
	if err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}

	if err := a.repo.SetArchiveURL(ctx, songID, url); err != nil {
		return "", fmt.Errorf("record archive url: %w", err)
	}
	return url, nil
}

// archiveKey derives a stable storage key from the song and the asset's
// filename on the provider CDN.
func archiveKey(songID, assetURL string) string {
	name := ""
	if u, err := url.Parse(assetURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" || name == "" {
		name = "audio.mp3"
	}
	return songID + "/" + name
}
