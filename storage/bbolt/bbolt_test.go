package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangram0022/user-mn-go/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "creds.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("refresh_token", []byte("ciphertext")))

	got, err := s.Get("refresh_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)

	require.NoError(t, s.Delete("refresh_token"))
	_, err = s.Get("refresh_token")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_GetMissingBucket(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("anything")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PutAllAtomic(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutAll(map[string][]byte{
		"access_token": []byte("at"),
		"expires_at":   []byte("exp"),
	}))

	at, err := s.Get("access_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("at"), at)
}

func TestStore_DeleteAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("a", []byte("1")))

	require.NoError(t, s.DeleteAll())
	_, err := s.Get("a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// DeleteAll on an empty store is a no-op.
	assert.NoError(t, s.DeleteAll())
}
