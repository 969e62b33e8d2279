// Package bolt provides a bbolt-backed persistence.Backend.
package bolt

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironbmc/persistence"
)

var (
	configBucket   = []byte("config")
	sessionsBucket = []byte("sessions")
)

// Store implements persistence.Backend on a bbolt database file.
type Store struct {
	db *bbolt.DB
}

var _ persistence.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path. The file is created
// owner-only: it holds live session tokens.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadConfig() (map[string][]byte, error) {
	config := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(configBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			config[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading config bucket: %w", err)
	}
	return config, nil
}

func (s *Store) LoadSessions() ([][]byte, error) {
	var docs [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			docs = append(docs, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading sessions bucket: %w", err)
	}
	return docs, nil
}

// Save replaces all persisted state in a single write transaction, so a
// crash mid-flush never leaves a half-written mix of old and new sessions.
func (s *Store) Save(config map[string][]byte, sessions map[string][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{configBucket, sessionsBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}

		cb, err := tx.CreateBucket(configBucket)
		if err != nil {
			return err
		}
		for k, v := range config {
			if err := cb.Put([]byte(k), v); err != nil {
				return err
			}
		}

		sb, err := tx.CreateBucket(sessionsBucket)
		if err != nil {
			return err
		}
		for k, v := range sessions {
			if err := sb.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
