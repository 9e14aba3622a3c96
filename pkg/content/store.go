// Package content defines the destination byte storage for finished uploads.
package content

import (
	"context"
	"io"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store persists the bytes of finished uploads under an opaque id.
//
// The store manages only raw file data. Names, MIME types and ownership of a
// stored file live in the document catalog, which references content by id.
//
// Content Identifiers:
// The id is chosen by the caller and treated as opaque by the store. Each
// backend maps it to its own key space:
//   - Filesystem: hex-encoded file name below the root directory
//   - S3: object key (with optional prefix)
//   - Memory: map key
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writes to the same id are last-write-wins.
type Store interface {
	// Put stores the content of r under id, replacing existing content.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Content identifier
	//   - r: Content bytes
	//   - size: Expected number of bytes, or -1 when unknown
	//
	// Returns:
	//   - int64: Number of bytes stored
	//   - error: ErrInvalidID, ErrSizeMismatch, or context/IO errors
	Put(ctx context.Context, id string, r io.Reader, size int64) (int64, error)

	// Open returns a reader for the content of id. The caller closes it.
	//
	// Returns ErrContentNotFound if the content does not exist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Size returns the size of the content in bytes.
	//
	// Returns ErrContentNotFound if the content does not exist.
	Size(ctx context.Context, id string) (int64, error)

	// Exists reports whether content is stored under id.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete removes the content of id.
	//
	// Returns ErrContentNotFound if the content does not exist.
	Delete(ctx context.Context, id string) error

	// List returns all stored content ids in no particular order.
	List(ctx context.Context) ([]string, error)
}
