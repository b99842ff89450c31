// Package metastore is the embedded ordered key/value store (spec.md
// §4.1): atomic put/get/delete of opaque byte strings keyed by prefix
// plus UUID, backed by a single bbolt bucket and a forward cursor
// iterator, grounded on the teacher's pkg/storage.BoltStore.
package metastore

import (
	"bytes"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/aivoyager8/xsan/internal/xerrors"
)

func statNoCreate(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Key prefixes partitioning the single keyspace (spec.md §4.1).
const (
	PrefixDisk      = "d:"
	PrefixGroup     = "g:"
	PrefixVolume    = "v:"
	PrefixVolumeMap = "volmap:"
)

var rootBucket = []byte("xsan")

// Store is the singleton metadata store.
type Store struct {
	db *bolt.DB
}

// Open opens the store at path. If createIfMissing is false and no
// file exists there, it returns a file-not-found error
// (KindFileNotFound) rather than silently creating one.
func Open(path string, createIfMissing bool) (*Store, error) {
	opts := &bolt.Options{}
	if !createIfMissing {
		if _, err := statNoCreate(path); err != nil {
			return nil, xerrors.Wrap(xerrors.KindFileNotFound, "metadata store file not found", err)
		}
	}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "open metadata store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.KindSystem, "initialize metadata store bucket", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes key→value, overwriting any existing value.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
}

// Get reads the value for key. Returns a KindNotFound-ish error
// (KindFileNotFound) if absent, matching spec.md §4.1's "get(key) →
// value | not_found".
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v == nil {
			return xerrors.Newf(xerrors.KindFileNotFound, "metastore key %q not found", key)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
}

// Iterator is a forward cursor over the store's keyspace, per spec.md
// §4.1's seek_to_first/seek(prefix)/next/is_valid/key/value API.
type Iterator struct {
	tx     *bolt.Tx
	cursor *bolt.Cursor
	prefix []byte
	k, v   []byte
	valid  bool
}

// NewIterator opens a read-only transaction and returns an iterator
// over it. The caller must call Close when done to release the
// transaction.
func (s *Store) NewIterator() (*Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "begin metastore iterator transaction", err)
	}
	return &Iterator{tx: tx, cursor: tx.Bucket(rootBucket).Cursor()}, nil
}

// Close releases the iterator's underlying transaction.
func (it *Iterator) Close() error {
	return it.tx.Rollback()
}

// SeekToFirst positions the iterator at the first key in the store.
func (it *Iterator) SeekToFirst() {
	it.prefix = nil
	it.k, it.v = it.cursor.First()
	it.valid = it.k != nil
}

// Seek positions the iterator at the first key with the given prefix,
// and restricts subsequent Next calls to keys sharing that prefix.
func (it *Iterator) Seek(prefix []byte) {
	it.prefix = append([]byte(nil), prefix...)
	it.k, it.v = it.cursor.Seek(prefix)
	it.valid = it.k != nil && bytes.HasPrefix(it.k, it.prefix)
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.k, it.v = it.cursor.Next()
	it.valid = it.k != nil
	if it.valid && it.prefix != nil && !bytes.HasPrefix(it.k, it.prefix) {
		it.valid = false
	}
}

// IsValid reports whether the iterator currently points at a record.
func (it *Iterator) IsValid() bool { return it.valid }

// Key returns the current key. Only valid while IsValid() is true.
func (it *Iterator) Key() []byte { return append([]byte(nil), it.k...) }

// Value returns the current value. Only valid while IsValid() is true.
func (it *Iterator) Value() []byte { return append([]byte(nil), it.v...) }

// KeyFor joins a prefix and a raw id (typically a UUID string) into a
// metastore key.
func KeyFor(prefix, id string) []byte {
	return []byte(prefix + id)
}

// ScanPrefix collects every value stored under the given prefix. It is
// a convenience wrapper over the iterator, used by manager init-time
// loads (spec.md §4.3, §4.4).
func (s *Store) ScanPrefix(prefix string) ([][]byte, error) {
	it, err := s.NewIterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][]byte
	for it.Seek([]byte(prefix)); it.IsValid(); it.Next() {
		out = append(out, it.Value())
	}
	return out, nil
}
