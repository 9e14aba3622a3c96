package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
)

// MemoryCatalog keeps documents in a map. Data is lost on restart.
type MemoryCatalog struct {
	mu   sync.RWMutex
	docs map[string]*catalog.Document
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{docs: make(map[string]*catalog.Document)}
}

func (c *MemoryCatalog) Put(ctx context.Context, doc *catalog.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	copied := *doc
	c.mu.Lock()
	c.docs[doc.ID] = &copied
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) Get(ctx context.Context, id string) (*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, exists := c.docs[id]
	if !exists {
		return nil, fmt.Errorf("document %s: %w", id, catalog.ErrDocumentNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (c *MemoryCatalog) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[id]; !exists {
		return fmt.Errorf("document %s: %w", id, catalog.ErrDocumentNotFound)
	}
	delete(c.docs, id)
	return nil
}

func (c *MemoryCatalog) List(ctx context.Context, library string) ([]*catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var docs []*catalog.Document
	for _, doc := range c.docs {
		if doc.Library != library {
			continue
		}
		copied := *doc
		docs = append(docs, &copied)
	}
	return docs, nil
}

func (c *MemoryCatalog) Close() error {
	return nil
}
