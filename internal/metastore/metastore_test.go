package metastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "xsan.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	key := KeyFor(PrefixDisk, "disk-1")
	require.NoError(t, s.Put(key, []byte("hello")))

	v, err := s.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	require.Error(t, err)
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(KeyFor(PrefixVolume, "ghost"))
	require.Error(t, err)
}

func TestIteratorSeekPrefix(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(KeyFor(PrefixDisk, "a"), []byte("1")))
	require.NoError(t, s.Put(KeyFor(PrefixDisk, "b"), []byte("2")))
	require.NoError(t, s.Put(KeyFor(PrefixGroup, "g1"), []byte("3")))

	it, err := s.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	var got [][]byte
	for it.Seek([]byte(PrefixDisk)); it.IsValid(); it.Next() {
		got = append(got, it.Value())
	}
	require.Len(t, got, 2)
	require.ElementsMatch(t, [][]byte{[]byte("1"), []byte("2")}, got)
}

func TestIteratorSeekToFirst(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	it, err := s.NewIterator()
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	require.True(t, it.IsValid())
	require.Equal(t, []byte("a"), it.Key())
	it.Next()
	require.True(t, it.IsValid())
	require.Equal(t, []byte("b"), it.Key())
	it.Next()
	require.False(t, it.IsValid())
}

func TestScanPrefix(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(KeyFor(PrefixVolume, "v1"), []byte(`{"id":"v1"}`)))
	require.NoError(t, s.Put(KeyFor(PrefixVolume, "v2"), []byte(`{"id":"v2"}`)))
	require.NoError(t, s.Put(KeyFor(PrefixVolumeMap, "v1"), []byte(`{"extents":[]}`)))

	vals, err := s.ScanPrefix(PrefixVolume)
	require.NoError(t, err)
	// Note: "v:" is a prefix of "volmap:"? No — "v:" != "volmap:" prefix,
	// since PrefixVolume is "v:" and PrefixVolumeMap is "volmap:"; they
	// do not share a common byte prefix beyond "v", so ScanPrefix("v:")
	// must not pick up volmap: entries.
	require.Len(t, vals, 2)
}

func TestOpenWithoutCreateFailsWhenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"), false)
	require.Error(t, err)
}
