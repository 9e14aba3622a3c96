package testing

import (
	"context"
	"testing"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

// StoreTestSuite is a test suite for content.Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across implementations (memory, filesystem, S3).
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func() content.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh Store instance
	// for each test. This ensures test isolation.
	NewStore func() content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutAndOpen", suite.testPutAndOpen)
	t.Run("PutReplaces", suite.testPutReplaces)
	t.Run("PutSizeMismatch", suite.testPutSizeMismatch)
	t.Run("PutInvalidID", suite.testPutInvalidID)
	t.Run("Missing", suite.testMissing)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
	t.Run("CancelledContext", suite.testCancelledContext)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
