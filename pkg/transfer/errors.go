package transfer

import "errors"

// ============================================================================
// Standard Transfer Store Errors
// ============================================================================

// Callers map these to protocol responses. Implementations wrap them with the
// transfer id:
//
//	return fmt.Errorf("transfer %s: %w", id, transfer.ErrTransferNotFound)

var (
	// ErrTransferNotFound indicates no staging directory exists for the id.
	//
	// Also returned for ids that do not have the expected shape, so that a
	// malformed id can never address a path outside the staging root.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrOffsetMismatch indicates a chunk did not start at the current
	// accumulator length.
	//
	// Protocol Mapping:
	//   - HTTP: 409 Conflict
	ErrOffsetMismatch = errors.New("offset mismatch")

	// ErrChunkOverflow indicates a chunk would grow the accumulator beyond
	// the declared transfer size. The accumulator is left unchanged.
	//
	// Protocol Mapping:
	//   - HTTP: 413 Payload Too Large
	ErrChunkOverflow = errors.New("chunk exceeds declared size")

	// ErrNoData indicates the transfer exists but has no committed data file.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrNoData = errors.New("transfer has no data")

	// ErrSnapshotVersion indicates a snapshot written by an unknown format
	// version.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)
