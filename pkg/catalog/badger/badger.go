package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
)

// BadgerCatalog stores documents in an embedded BadgerDB.
//
// Documents and library index entries are written in one transaction, so the
// index never points at a missing document.
type BadgerCatalog struct {
	db *badger.DB
}

// BadgerCatalogConfig contains configuration for the badger catalog.
type BadgerCatalogConfig struct {
	// DBPath is the directory holding the database files
	DBPath string

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool
}

// NewBadgerCatalog opens (or creates) the database.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database location
//
// Returns:
//   - *BadgerCatalog: Open catalog, closed with Close
//   - error: If the database cannot be opened or ctx is cancelled
func NewBadgerCatalog(ctx context.Context, config BadgerCatalogConfig) (*BadgerCatalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger catalog path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}

	// Documents are small JSON records.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerCatalog{db: db}, nil
}

func (c *BadgerCatalog) Put(ctx context.Context, doc *catalog.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	data, err := catalog.Encode(doc)
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		// Drop the index entry of a previous version in another library.
		previous, err := getDocument(txn, doc.ID)
		if err == nil && previous.Library != doc.Library {
			if err := txn.Delete(catalog.LibraryKey(previous.Library, doc.ID)); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, catalog.ErrDocumentNotFound) {
			return err
		}

		if err := txn.Set(catalog.DocumentKey(doc.ID), data); err != nil {
			return err
		}
		return txn.Set(catalog.LibraryKey(doc.Library, doc.ID), nil)
	})
}

func (c *BadgerCatalog) Get(ctx context.Context, id string) (*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *catalog.Document
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *BadgerCatalog) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		doc, err := getDocument(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(catalog.DocumentKey(id)); err != nil {
			return err
		}
		return txn.Delete(catalog.LibraryKey(doc.Library, id))
	})
}

// List scans the library index and resolves each entry.
func (c *BadgerCatalog) List(ctx context.Context, library string) ([]*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []*catalog.Document
	prefix := catalog.LibraryPrefix(library)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			id := catalog.IDFromLibraryKey(library, it.Item().Key())
			doc, err := getDocument(txn, id)
			if err != nil {
				// Skip dangling index entries
				continue
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *BadgerCatalog) Close() error {
	return c.db.Close()
}

func getDocument(txn *badger.Txn, id string) (*catalog.Document, error) {
	item, err := txn.Get(catalog.DocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, catalog.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return catalog.Decode(data)
}
