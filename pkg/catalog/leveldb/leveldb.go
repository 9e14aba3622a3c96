package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
)

// LevelDBCatalog stores documents in an embedded LevelDB database.
// Document and index updates go through one write batch.
type LevelDBCatalog struct {
	db *leveldb.DB
}

// NewLevelDBCatalog opens (or creates) the database at path.
func NewLevelDBCatalog(ctx context.Context, path string) (*LevelDBCatalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("leveldb catalog path is required")
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB at %s: %w", path, err)
	}
	return &LevelDBCatalog{db: db}, nil
}

func (c *LevelDBCatalog) Put(ctx context.Context, doc *catalog.Document) error {
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

	batch := new(leveldb.Batch)
	previous, err := c.get(doc.ID)
	switch {
	case err == nil && previous.Library != doc.Library:
		batch.Delete(catalog.LibraryKey(previous.Library, doc.ID))
	case err != nil && !errors.Is(err, catalog.ErrDocumentNotFound):
		return err
	}
	batch.Put(catalog.DocumentKey(doc.ID), data)
	batch.Put(catalog.LibraryKey(doc.Library, doc.ID), nil)

	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}
	return nil
}

func (c *LevelDBCatalog) Get(ctx context.Context, id string) (*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.get(id)
}

func (c *LevelDBCatalog) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := c.get(id)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(catalog.DocumentKey(id))
	batch.Delete(catalog.LibraryKey(doc.Library, id))
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (c *LevelDBCatalog) List(ctx context.Context, library string) ([]*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iter := c.db.NewIterator(util.BytesPrefix(catalog.LibraryPrefix(library)), nil)
	defer iter.Release()

	var docs []*catalog.Document
	for iter.Next() {
		id := catalog.IDFromLibraryKey(library, iter.Key())
		doc, err := c.get(id)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list library %s: %w", library, err)
	}
	return docs, nil
}

func (c *LevelDBCatalog) Close() error {
	return c.db.Close()
}

func (c *LevelDBCatalog) get(id string) (*catalog.Document, error) {
	data, err := c.db.Get(catalog.DocumentKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, catalog.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return catalog.Decode(data)
}
