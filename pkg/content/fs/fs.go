package fs

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

// FSContentStore implements content.Store using the local filesystem.
//
// Each content id is stored as one file below the base directory. File names
// are the hex encoding of the id, so any id is filesystem-safe and cannot
// escape the base directory.
//
// Thread Safety:
// Writes go to a temp file that is renamed into place, so readers observe
// either the previous content or the new content, never a partial file.
type FSContentStore struct {
	basePath string
}

// NewFSContentStore creates a new filesystem-based content store.
//
// The base directory is created with permissions 0755 if it doesn't exist.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - basePath: Root directory for storing content files
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if basePath == "" {
		return nil, fmt.Errorf("content path is required")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{basePath: basePath}, nil
}

// getFilePath returns the full path for a given content id.
func (r *FSContentStore) getFilePath(id string) string {
	return filepath.Join(r.basePath, hex.EncodeToString([]byte(id)))
}

// Put stores r under id through a temp file and rename.
func (r *FSContentStore) Put(ctx context.Context, id string, src io.Reader, size int64) (int64, error) {
	// ========================================================================
	// Step 1: Validate
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if id == "" {
		return 0, content.ErrInvalidID
	}

	// ========================================================================
	// Step 2: Write to a temp file in the same directory
	// ========================================================================

	tmp, err := os.CreateTemp(r.basePath, ".put-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, src)
	if err != nil {
		return 0, fmt.Errorf("failed to write content: %w", err)
	}
	if size >= 0 && n != size {
		return 0, fmt.Errorf("content %s: wrote %d of %d bytes: %w", id, n, size, content.ErrSizeMismatch)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close content: %w", err)
	}

	// ========================================================================
	// Step 3: Rename into place
	// ========================================================================

	if err := os.Rename(tmpPath, r.getFilePath(id)); err != nil {
		return 0, fmt.Errorf("failed to commit content: %w", err)
	}

	committed = true
	return n, nil
}

// Open returns a reader for the content identified by the given id.
func (r *FSContentStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(r.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	return file, nil
}

// Size returns the size of the content in bytes.
func (r *FSContentStore) Size(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(r.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return info.Size(), nil
}

// Exists reports whether content is stored under id.
func (r *FSContentStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(r.getFilePath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check content existence: %w", err)
}

// Delete removes the content file.
func (r *FSContentStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(r.getFilePath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// List returns all content ids by decoding the file names. Temp files and
// names that are not valid hex are skipped.
func (r *FSContentStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list content directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		decoded, err := hex.DecodeString(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, string(decoded))
	}
	return ids, nil
}
