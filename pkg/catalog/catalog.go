// Package catalog records finished uploads as documents.
//
// A document links a stored content id to the library it was uploaded into,
// the client file name, its MIME type and the record it is attached to
// (linkTo). Documents are looked up by id when a client loads a previously
// stored file through a foreign key.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultDocumentType is used when an upload does not name a document type.
const DefaultDocumentType = "generic"

// Document is one stored file.
type Document struct {
	ID           string         `json:"id"`
	Library      string         `json:"library"`
	Name         string         `json:"name"`
	MimeType     string         `json:"mimeType"`
	Size         int64          `json:"size"`
	ContentID    string         `json:"contentId"`
	DocumentType string         `json:"documentType"`
	LinkTo       string         `json:"linkTo,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Validate checks the fields every backend relies on.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("document is nil: %w", ErrInvalidDocument)
	}
	if d.ID == "" {
		return fmt.Errorf("document id is empty: %w", ErrInvalidDocument)
	}
	if d.Library == "" {
		return fmt.Errorf("document %s: library is empty: %w", d.ID, ErrInvalidDocument)
	}
	if strings.Contains(d.Library, ":") {
		return fmt.Errorf("document %s: library %q contains ':': %w", d.ID, d.Library, ErrInvalidDocument)
	}
	return nil
}

// ============================================================================
// Catalog Interface
// ============================================================================

// Catalog stores documents keyed by id with a per-library index.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Catalog interface {
	// Put inserts or replaces a document. Replacing a document that moved to
	// another library updates the library index.
	Put(ctx context.Context, doc *Document) error

	// Get returns the document with the given id.
	//
	// Returns ErrDocumentNotFound if no such document exists.
	Get(ctx context.Context, id string) (*Document, error)

	// Delete removes a document and its index entry.
	//
	// Returns ErrDocumentNotFound if no such document exists.
	Delete(ctx context.Context, id string) error

	// List returns the documents of one library in no particular order.
	List(ctx context.Context, library string) ([]*Document, error)

	// Close releases the backend.
	Close() error
}

// ============================================================================
// Key Layout
// ============================================================================

// Key-value backends share one layout:
//
//	doc:<id>            JSON document
//	lib:<library>:<id>  index entry (empty value)

const (
	prefixDocument = "doc:"
	prefixLibrary  = "lib:"
)

// DocumentKey returns the key of a document record.
func DocumentKey(id string) []byte {
	return []byte(prefixDocument + id)
}

// LibraryKey returns the index key of a document in a library.
func LibraryKey(library, id string) []byte {
	return []byte(prefixLibrary + library + ":" + id)
}

// LibraryPrefix returns the prefix of all index keys of a library.
func LibraryPrefix(library string) []byte {
	return []byte(prefixLibrary + library + ":")
}

// IDFromLibraryKey extracts the document id from an index key.
func IDFromLibraryKey(library string, key []byte) string {
	return string(key[len(LibraryPrefix(library)):])
}

// Encode serializes a document.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	return data, nil
}

// Decode deserializes a document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}
