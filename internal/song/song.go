// Package song provides the Song aggregate for managing generation jobs.
// It includes the Song entity with monotonic state machine transitions,
// as well as repository interfaces for persistence.
package song

import (
	"errors"
	"sync"
	"time"

	"github.com/brandtune/songforge-api/internal/song/id"
)

// Status represents the current lifecycle state of a Song.
type Status string

const (
	// StatusPending indicates the song record exists but has not been
	// submitted to the generation provider yet.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates the song was submitted and a provider
	// result is awaited.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates generation finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates generation failed or timed out.
	StatusFailed Status = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
// Terminal states are idempotent sinks: no transition leaves them.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Completion carries the terminal outcome applied by the completion handler.
// Both the reconciliation worker and the callback receiver produce this shape.
type Completion struct {
	// Status is the terminal state to apply (COMPLETED or FAILED).
	Status Status
	// AudioURL is the provider URL of the generated track.
	AudioURL string
	// ImageURL is the provider URL of the generated cover image.
	ImageURL string
	// DurationSeconds is the length of the generated track.
	DurationSeconds float64
	// ErrorMessage is populated on FAILED.
	ErrorMessage string
}

// Song represents a brand-to-song generation job aggregate.
type Song struct {
	mu sync.RWMutex

	// ID is the unique identifier for this song.
	ID string
	// Title is the requested song title.
	Title string
	// Style describes the musical style (e.g. "upbeat pop").
	Style string
	// BrandName is the brand the song is generated for.
	BrandName string
	// BrandDescription is free-form brand metadata fed to lyric generation.
	BrandDescription string
	// Lyrics is the generated lyric text; submission requires it.
	Lyrics string
	// Status is the current lifecycle state.
	Status Status
	// TaskID is the provider task handle, set once submission succeeds.
	// It is the reconciliation key: polling and callbacks look songs up
	// by TaskID, never by ID.
	TaskID string
	// AudioURL is the provider URL of the generated track (COMPLETED only).
	AudioURL string
	// ImageURL is the provider URL of the cover image (COMPLETED only).
	ImageURL string
	// ArchiveURL is the mirrored copy in our own storage, if archived.
	ArchiveURL string
	// DurationSeconds is the track length (COMPLETED only).
	DurationSeconds float64
	// ErrorMessage contains the failure reason (FAILED only).
	ErrorMessage string
	// CreatedAt is when the song record was created.
	CreatedAt time.Time
	// UpdatedAt is when the song record was last updated.
	UpdatedAt time.Time
}

// New creates a new Song with a generated ID in PENDING status.
func New() *Song {
	now := time.Now()
	return &Song{
		ID:        id.Generate(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewWithID creates a new Song with the specified ID in PENDING status.
// Useful for testing or when the ID is externally generated.
func NewWithID(songID string) *Song {
	now := time.Now()
	return &Song{
		ID:        songID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the song status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (s *Song) TransitionTo(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(status)
}

func (s *Song) transitionLocked(status Status) error {
	if !canTransition(s.Status, status) {
		return ErrInvalidTransition
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

// BeginProcessing records a successful submission: it sets the provider
// task handle and moves the song to PROCESSING in one step.
func (s *Song) BeginProcessing(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusProcessing); err != nil {
		return err
	}
	s.TaskID = taskID
	return nil
}

// ApplyCompletion writes a terminal outcome onto the song.
// Returns ErrInvalidTransition if the song is not in PROCESSING.
func (s *Song) ApplyCompletion(c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(c.Status); err != nil {
		return err
	}
	switch c.Status {
	case StatusCompleted:
		s.AudioURL = c.AudioURL
		s.ImageURL = c.ImageURL
		s.DurationSeconds = c.DurationSeconds
	case StatusFailed:
		s.ErrorMessage = c.ErrorMessage
	}
	return nil
}

// Fail transitions the song to FAILED with an error message.
func (s *Song) Fail(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusFailed); err != nil {
		return err
	}
	s.ErrorMessage = errMsg
	return nil
}

// SetArchiveURL records the mirrored artifact location.
func (s *Song) SetArchiveURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ArchiveURL = url
	s.UpdatedAt = time.Now()
}

// GetStatus returns the current song status (thread-safe).
func (s *Song) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// IsTerminal returns true if the song is in a terminal state.
func (s *Song) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status.IsTerminal()
}

// Clone creates a deep copy of the song for safe reads.
func (s *Song) Clone() *Song {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Song{
		ID:               s.ID,
		Title:            s.Title,
		Style:            s.Style,
		BrandName:        s.BrandName,
		BrandDescription: s.BrandDescription,
		Lyrics:           s.Lyrics,
		Status:           s.Status,
		TaskID:           s.TaskID,
		AudioURL:         s.AudioURL,
		ImageURL:         s.ImageURL,
		ArchiveURL:       s.ArchiveURL,
		DurationSeconds:  s.DurationSeconds,
		ErrorMessage:     s.ErrorMessage,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
