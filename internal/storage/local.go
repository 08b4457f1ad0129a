package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage is a BlobStorage backed by the local filesystem, used only
// as the Artifact Fetcher's scratch buffer while a source archive is
// inspected: one path is ever staged per instance, and its caller always
// deletes it before the instance goes out of scope. There is no concurrent
// access to guard against, since each fetch-and-verify call constructs its
// own instance over its own temporary directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Store saves content at path via a temp-file-then-rename write, so a
// reader can never observe a partially written file.
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader, contentType string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fullPath + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	if _, err := io.Copy(tempFile, content); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Debug().Str("path", path).Str("content_type", contentType).Msg("staged scratch file")
	return nil
}

// Retrieve opens content at path for reading.
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(filepath.Join(ls.basePath, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes content at path. Deleting an already-absent path is not
// an error: the caller's cleanup defer always runs, whether or not the
// staged file survived to that point.
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(filepath.Join(ls.basePath, path)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
