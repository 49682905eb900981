// Package storage provides the blob store behind file uploads.
//
// Blobs are addressed by an opaque storage id generated on Put. The metadata
// layer persists the id; nothing outside this package interprets it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotExist reports that a storage id does not resolve to a blob. Every
// backend wraps it so callers can test with errors.Is.
var ErrNotExist = errors.New("blob does not exist")

// BlobStore is the gateway to raw file bytes.
type BlobStore interface {
	// Put streams the blob into storage and returns its new storage id and
	// the number of bytes written.
	Put(ctx context.Context, reader io.Reader) (string, int64, error)

	// Get opens the blob for reading. The caller closes the reader.
	Get(ctx context.Context, storageID string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting an absent blob reports ErrNotExist.
	Delete(ctx context.Context, storageID string) error
}

// LocalStorage stores blobs as flat files under BaseDir, one file per
// storage id.
type LocalStorage struct {
	BaseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &LocalStorage{BaseDir: baseDir}, nil
}

func (s *LocalStorage) Put(ctx context.Context, reader io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	id := uuid.NewString()
	path := filepath.Join(s.BaseDir, id)

	out, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating blob file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, reader)
	if err != nil {
		// Best effort: do not leave a truncated blob behind.
		os.Remove(path)
		return "", 0, fmt.Errorf("writing blob: %w", err)
	}

	return id, written, nil
}

func (s *LocalStorage) Get(ctx context.Context, storageID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.BaseDir, storageID))
}

func (s *LocalStorage) Delete(ctx context.Context, storageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.BaseDir, storageID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %s: %w", storageID, ErrNotExist)
		}
		return err
	}
	return nil
}

var _ BlobStore = (*LocalStorage)(nil)
