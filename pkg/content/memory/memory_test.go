package memory

import (
	"context"
	"testing"

	"github.com/rugalib/ruga-filepond/pkg/content"
	contenttesting "github.com/rugalib/ruga-filepond/pkg/content/testing"
)

// TestMemoryContentStore runs the content store test suite against the
// MemoryContentStore implementation.
func TestMemoryContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func() content.Store {
			store, err := NewMemoryContentStore(context.Background())
			if err != nil {
				t.Fatalf("Failed to create MemoryContentStore: %v", err)
			}
			return store
		},
	}

	suite.Run(t)
}
