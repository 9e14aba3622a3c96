package testing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

// mustPut stores data and fails the test if it errors.
func mustPut(t *testing.T, store content.Store, id string, data []byte) {
	t.Helper()
	n, err := store.Put(testContext(), id, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err, "Put should succeed")
	require.Equal(t, int64(len(data)), n)
}

// mustRead reads content and fails the test if it errors.
func mustRead(t *testing.T, store content.Store, id string) []byte {
	t.Helper()
	reader, err := store.Open(testContext(), id)
	require.NoError(t, err, "Open should succeed")
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err, "Reading content should succeed")
	return data
}

// assertExists checks if content exists.
func assertExists(t *testing.T, store content.Store, id string, expected bool) {
	t.Helper()
	exists, err := store.Exists(testContext(), id)
	require.NoError(t, err, "Exists should not error")
	assert.Equal(t, expected, exists, "Content existence mismatch")
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}
