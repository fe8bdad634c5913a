package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "session.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "access_token", "A1"))
	require.NoError(t, first.Set(ctx, "token_start_timestamp", "1714554000000"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := NewFileStore(path)
	require.NoError(t, err)
	value, ok, err := second.Get(ctx, "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A1", value)

	require.NoError(t, second.Delete(ctx, "access_token"))
	third, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok, _ = third.Get(ctx, "access_token")
	require.False(t, ok)
	value, ok, _ = third.Get(ctx, "token_start_timestamp")
	require.True(t, ok)
	require.Equal(t, "1714554000000", value)
}

func TestFileStoreRejectsBadInput(t *testing.T) {
	_, err := NewFileStore("  ")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	_, err = NewFileStore(path)
	require.Error(t, err)
}

func TestFileStoreDeleteMissingDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), "access_token"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
