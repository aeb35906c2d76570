package song

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses maps with a single RWMutex for thread-safe access; the mutex
// also serializes CompleteIfProcessing, giving it compare-and-set
// semantics without external locking.
// Suitable for development and testing; use SQLiteRepository in production.
type MemoryRepository struct {
	mu     sync.RWMutex
	songs  map[string]*Song
	byTask map[string]string // task handle -> song ID
}

// NewMemoryRepository creates a new in-memory song repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		songs:  make(map[string]*Song),
		byTask: make(map[string]string),
	}
}

// Save persists a song to the in-memory storage.
// Creates a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, s *Song) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := s.Clone()
	r.songs[clone.ID] = clone
	if clone.TaskID != "" {
		r.byTask[clone.TaskID] = clone.ID
	}
	return nil
}

// FindByID retrieves a song by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.songs[id]
	if !ok {
		return nil, ErrSongNotFound
	}
	return s.Clone(), nil
}

// FindByTaskID retrieves a song by its provider task handle.
func (r *MemoryRepository) FindByTaskID(_ context.Context, taskID string) (*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTask[taskID]
	if !ok {
		return nil, ErrSongNotFound
	}
	return r.songs[id].Clone(), nil
}

// List returns all songs in the repository.
// Returns clones to prevent external mutations.
func (r *MemoryRepository) List(_ context.Context) ([]*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Song, 0, len(r.songs))
	for _, s := range r.songs {
		result = append(result, s.Clone())
	}
	return result, nil
}

// MarkProcessing atomically records a successful submission.
func (r *MemoryRepository) MarkProcessing(_ context.Context, id, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	if err := s.BeginProcessing(taskID); err != nil {
		return err
	}
	r.byTask[taskID] = id
	return nil
}

// MarkFailed moves a non-terminal song to FAILED with a message.
func (r *MemoryRepository) MarkFailed(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	return s.Fail(message)
}

// CompleteIfProcessing applies a terminal outcome under the repository lock.
func (r *MemoryRepository) CompleteIfProcessing(_ context.Context, taskID string, c Completion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTask[taskID]
	if !ok {
		return false, nil
	}
	s := r.songs[id]
	if s.GetStatus() != StatusProcessing {
		return false, nil
	}
	if err := s.ApplyCompletion(c); err != nil {
		return false, nil
	}
	return true, nil
}

// FailProcessingOlderThan force-fails stale PROCESSING songs.
func (r *MemoryRepository) FailProcessingOlderThan(_ context.Context, cutoff time.Time, message string) ([]*Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Song
	for _, s := range r.songs {
		if s.GetStatus() != StatusProcessing || !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.Fail(message); err != nil {
			continue
		}
		expired = append(expired, s.Clone())
	}
	return expired, nil
}

// SetArchiveURL records the mirrored artifact location for a song.
func (r *MemoryRepository) SetArchiveURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	s.SetArchiveURL(url)
	return nil
}
