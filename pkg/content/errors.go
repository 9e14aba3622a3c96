package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content store implementations. Callers check them with
// errors.Is and map them to protocol responses.
//
// Error Wrapping:
// Implementations wrap these errors with additional context:
//
//	if !exists {
//	    return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
//	}

var (
	// ErrContentNotFound indicates the requested content does not exist.
	//
	// This error is returned when:
	//   - Open() called with a non-existent id
	//   - Size() called with a non-existent id
	//   - Delete() called with a non-existent id
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidID indicates the content id is empty or unusable by the
	// backend.
	//
	// Protocol Mapping:
	//   - HTTP: 400 Bad Request
	ErrInvalidID = errors.New("invalid content ID")

	// ErrSizeMismatch indicates Put received a different number of bytes
	// than announced. Nothing is stored in that case.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrSizeMismatch = errors.New("content size mismatch")
)
