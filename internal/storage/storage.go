// Package storage persists generated song artifacts (audio tracks, cover
// images) outside the provider CDN. It defines the Storage port and
// implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage is the port for durable artifact persistence. Provider CDN
// links expire, so completed songs are mirrored through this interface.
type Storage interface {
	// SaveArtifact writes the artifact under the given key and returns a
	// stable URL for it.
	SaveArtifact(ctx context.Context, key string, data io.Reader) (url string, err error)
}
