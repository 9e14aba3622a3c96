package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

// MemoryContentStore implements content.Store using in-memory storage.
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on restart
//   - Memory-bound: Limited by available RAM
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Readers receive a reader
// over the stored slice; Put always installs a fresh slice, so an open reader
// is never affected by a later write.
type MemoryContentStore struct {
	// data stores the content keyed by id
	data map[string][]byte

	// mu protects concurrent access to data map
	mu sync.RWMutex
}

// NewMemoryContentStore creates a new, empty in-memory content store.
func NewMemoryContentStore(ctx context.Context) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data: make(map[string][]byte),
	}, nil
}

// Put reads r fully and stores it under id.
func (s *MemoryContentStore) Put(ctx context.Context, id string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if id == "" {
		return 0, content.ErrInvalidID
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return 0, fmt.Errorf("content %s: got %d of %d bytes: %w", id, len(data), size, content.ErrSizeMismatch)
	}

	s.mu.Lock()
	s.data[id] = data
	s.mu.Unlock()

	return int64(len(data)), nil
}

// Open returns a reader over the stored content. Closing it is a no-op.
func (s *MemoryContentStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, exists := s.data[id]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryContentStore) Size(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[id]
	if !exists {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return int64(len(data)), nil
}

func (s *MemoryContentStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[id]
	return exists, nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	delete(s.data, id)
	return nil
}

func (s *MemoryContentStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
