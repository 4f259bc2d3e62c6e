// Package boltstore is a persist.Adapter backed by go.etcd.io/bbolt:
// one bolt database file, one bolt bucket holding every envelope keyed
// by its persist.EnvelopeKey, JSON-encoded.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/bucketdb/bucketdb/pkg/types"
)

var envelopesBucket = []byte("envelopes")

// Store is a bbolt-backed persist.Adapter.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bucketdb.db file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "bucketdb.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(envelopesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create envelopes bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Save writes the envelope under key, replacing any prior value.
func (s *Store) Save(_ context.Context, key string, env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %q: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(envelopesBucket)
		return b.Put([]byte(key), data)
	})
}

// Load returns (nil, nil) if key has never been saved.
func (s *Store) Load(_ context.Context, key string) (*types.Envelope, error) {
	var env types.Envelope
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(envelopesBucket)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, fmt.Errorf("load envelope %q: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	return &env, nil
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
