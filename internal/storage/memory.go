package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage implements BlobStore using an in-memory map.
//
// Data is lost on restart; it exists for tests and ephemeral deployments.
// All operations are protected by an RWMutex, and blobs are copied on read
// and write so callers cannot race on shared buffers.
type MemoryStorage struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (s *MemoryStorage) Put(ctx context.Context, reader io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	buf, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, fmt.Errorf("reading blob: %w", err)
	}

	id := uuid.NewString()

	s.mu.Lock()
	s.data[id] = buf
	s.mu.Unlock()

	return id, int64(len(buf)), nil
}

func (s *MemoryStorage) Get(ctx context.Context, storageID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	buf, ok := s.data[storageID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("blob %s: %w", storageID, ErrNotExist)
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, storageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[storageID]; !ok {
		return fmt.Errorf("blob %s: %w", storageID, ErrNotExist)
	}
	delete(s.data, storageID)
	return nil
}

// Len reports the number of stored blobs. Used by tests.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ BlobStore = (*MemoryStorage)(nil)
