package catalog

import "errors"

var (
	// ErrDocumentNotFound indicates no document exists for the id.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocument indicates a document misses a required field.
	ErrInvalidDocument = errors.New("invalid document")
)
