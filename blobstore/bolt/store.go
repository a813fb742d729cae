// Package bolt implements blobstore.BlobStore on a single bbolt file.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/actoridx/blobstore"
	bolt "go.etcd.io/bbolt"
)

var blobsBucket = []byte("blobs")

// Store keeps every blob as a key in one bbolt bucket.
type Store struct {
	Path string
	db   *bolt.DB
}

var _ blobstore.BlobStore = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: unable to open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: unable to initialize %s: %w", path, err)
	}

	return &Store{Path: path, db: db}, nil
}

// Close the connection to the bolt database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Open copies the value out of the read transaction.
func (s *Store) Open(_ context.Context, name string) (blobstore.Blob, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(name))
		if v == nil {
			return blobstore.ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blobstore.NewBytesBlob(data), nil
}

func (s *Store) Put(_ context.Context, name string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(name), data)
	})
}

func (s *Store) Delete(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(name))
	})
}

// List seeks to prefix and scans forward; keys are sorted by bbolt.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blobsBucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
