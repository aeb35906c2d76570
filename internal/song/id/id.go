// Package id provides unique identifier generation for songs.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generate creates a new unique song ID.
// Format: song-<uuid>
// Example: song-8f14e45f-ceea-467f-a9d4-1b2c3d4e5f60
func Generate() string {
	return fmt.Sprintf("song-%s", uuid.NewString())
}
