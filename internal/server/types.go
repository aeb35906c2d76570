// Package server provides the HTTP server for the SongForge API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateSongRequest is the HTTP request body for creating a new song.
type CreateSongRequest struct {
	// Title is the track title.
	Title string `json:"title" validate:"required,max=120"`
	// Style is the musical style, e.g. "upbeat pop".
	Style string `json:"style" validate:"required,max=200"`
	// BrandName is the brand the song is generated for.
	BrandName string `json:"brand_name" validate:"required,max=120"`
	// BrandDescription gives the generator context about the brand.
	BrandDescription string `json:"brand_description" validate:"max=2000"`
	// Lyrics is the lyric text the track is generated from.
	Lyrics string `json:"lyrics" validate:"required,max=5000"`
}

// CreateSongResponse is the HTTP response after creating a song.
type CreateSongResponse struct {
	// ID is the unique identifier for the created song.
	ID string `json:"id"`
	// Status is the initial song status.
	Status string `json:"status"`
}

// GenerateResponse is the HTTP response after submitting a song for generation.
type GenerateResponse struct {
	// ID is the song identifier.
	ID string `json:"id"`
	// TaskID is the provider task handle.
	TaskID string `json:"task_id"`
	// Status is the song status after submission.
	Status string `json:"status"`
}

// SongStatusResponse is the HTTP response for getting song status.
type SongStatusResponse struct {
	// ID is the song identifier.
	ID string `json:"id"`
	// Status is the current lifecycle state.
	Status string `json:"status"`
	// Message is a human-readable status line.
	Message string `json:"message"`
	// Progress is the estimated completion percentage (0-100).
	Progress int `json:"progress"`
	// AudioURL is the generated track location (when completed).
	AudioURL string `json:"audio_url,omitempty"`
	// ImageURL is the cover image location (when completed).
	ImageURL string `json:"image_url,omitempty"`
	// ArchiveURL is the durable mirrored copy of the track.
	ArchiveURL string `json:"archive_url,omitempty"`
	// DurationSeconds is the track length (when completed).
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// Error contains the failure message if generation failed.
	Error string `json:"error,omitempty"`
	// PollIntervalSeconds tells clients how often to poll.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`
	// PollExpiresAt tells clients when polling stops being useful.
	PollExpiresAt *time.Time `json:"poll_expires_at,omitempty"`
}

// ListSongsResponse is the HTTP response for listing songs.
type ListSongsResponse struct {
	// Songs are the status views for all known songs.
	Songs []SongStatusResponse `json:"songs"`
}

// CreditsResponse is the HTTP response for the provider credit balance.
// Credits is nil when the balance could not be fetched.
type CreditsResponse struct {
	// Credits is the remaining provider credit balance, if known.
	Credits *float64 `json:"credits"`
	// Known reports whether the balance was fetched successfully.
	Known bool `json:"known"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
