package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string) *SQLiteStore {
	store, err := OpenSQLiteStore(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	store := openTestSQLite(t, filepath.Join(t.TempDir(), "registry.db"))
	storeContract(t, store)
}

func TestSQLiteStore_Rejections(t *testing.T) {
	store := openTestSQLite(t, filepath.Join(t.TempDir(), "registry.db"))
	rejectionContract(t, store)

	entries, err := store.QueryProtocols(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	first, err := OpenSQLiteStore(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.RegisterProtocol(ctx, testConfigure(t, "0.0.1")))
	require.NoError(t, first.Close())

	second := openTestSQLite(t, path)
	entries, err := second.QueryProtocols(ctx, testQuery("0.0.1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testDefinition(t), entries[0].Definition)
	assert.False(t, entries[0].DateCreated.IsZero())
}

func TestOpenSQLiteStore_EmptyPath(t *testing.T) {
	_, err := OpenSQLiteStore(context.Background(), " ", testLogger())
	require.Error(t, err)
}
