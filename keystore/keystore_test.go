package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "nested", "keys.json"))
	require.NoError(t, err)

	_, ok, err := store.GetItem("Meteor.loginToken")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetItem("Meteor.loginToken", "tok1"))
	v, ok, err := store.GetItem("Meteor.loginToken")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok1", v)

	require.NoError(t, store.RemoveItem("Meteor.loginToken"))
	_, ok, err = store.GetItem("Meteor.loginToken")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SetItem("k", "v"))
	v, ok, err := store.GetItem("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.NoError(t, store.RemoveItem("k"))
	_, ok, _ = store.GetItem("k")
	require.False(t, ok)
}
