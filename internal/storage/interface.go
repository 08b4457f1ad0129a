package storage

import (
	"context"
	"io"
)

// BlobStorage is the narrow scratch-buffer contract the Artifact Fetcher
// needs: stage one file, read it back once, then remove it. Nothing in
// this registry keeps artifact bytes around long enough to need existence
// checks, size queries, or prefix listings over a durable store.
type BlobStorage interface {
	// Store saves content at the given path.
	Store(ctx context.Context, path string, content io.Reader, contentType string) error

	// Retrieve gets content from the given path.
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path.
	Delete(ctx context.Context, path string) error
}
