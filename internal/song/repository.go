package song

import (
	"context"
	"errors"
	"time"
)

// ErrSongNotFound is returned when a song cannot be found.
var ErrSongNotFound = errors.New("song not found")

// Repository defines the interface for song persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// The song row is the single shared mutable resource in the system.
// All terminal writes go through CompleteIfProcessing, a compare-and-set
// keyed on "state still PROCESSING", so two near-simultaneous completion
// signals cannot both apply a terminal write.
type Repository interface {
	// Save persists a song to the storage.
	// If the song already exists, it is updated.
	Save(ctx context.Context, s *Song) error

	// FindByID retrieves a song by its unique identifier.
	// Returns ErrSongNotFound if the song does not exist.
	FindByID(ctx context.Context, id string) (*Song, error)

	// FindByTaskID retrieves a song by its provider task handle.
	// Returns ErrSongNotFound if no song carries that handle.
	FindByTaskID(ctx context.Context, taskID string) (*Song, error)

	// List returns all songs.
	List(ctx context.Context) ([]*Song, error)

	// MarkProcessing atomically records a successful submission: sets the
	// task handle and moves the song from PENDING to PROCESSING.
	// Returns ErrSongNotFound if the song does not exist and
	// ErrInvalidTransition if it is not PENDING.
	MarkProcessing(ctx context.Context, id, taskID string) error

	// MarkFailed moves a non-terminal song to FAILED with a message.
	// Returns ErrSongNotFound if the song does not exist and
	// ErrInvalidTransition if it is already terminal.
	MarkFailed(ctx context.Context, id, message string) error

	// CompleteIfProcessing applies a terminal outcome to the song carrying
	// the given task handle, but only if it is still PROCESSING.
	// Returns (false, nil) when no song carries the handle or the song is
	// already terminal; exactly one concurrent caller observes (true, nil).
	CompleteIfProcessing(ctx context.Context, taskID string, c Completion) (bool, error)

	// FailProcessingOlderThan force-fails every PROCESSING song whose last
	// update is older than the cutoff, returning the affected songs.
	FailProcessingOlderThan(ctx context.Context, cutoff time.Time, message string) ([]*Song, error)

	// SetArchiveURL records the mirrored artifact location for a song.
	SetArchiveURL(ctx context.Context, id, url string) error
}
