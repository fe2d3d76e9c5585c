// Package boltdb provides durable, file-backed implementations of the
// definition and transcript stores on top of BoltDB. Values are stored as
// JSON under per-entity buckets.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/hupe1980/agentrelay/core"
)

var (
	bucketDefinitions = []byte("definitions")
	bucketTranscripts = []byte("transcripts")
	bucketThreadIndex = []byte("thread_index")
)

// DB wraps a BoltDB instance and manages its lifecycle.
type DB struct {
	db *bolt.DB
}

// Open creates (if needed) and opens the database file, ensuring all buckets
// exist.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDefinitions, bucketTranscripts, bucketThreadIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %q: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying BoltDB instance.
func (d *DB) Close() error { return d.db.Close() }

// Bolt returns the underlying BoltDB instance.
func (d *DB) Bolt() *bolt.DB { return d.db }

// defKey namespaces definition keys by owner.
func defKey(userID, id string) []byte {
	return []byte(userID + "/" + id)
}

// DefinitionStore is a BoltDB-backed core.DefinitionStore.
type DefinitionStore struct {
	db *bolt.DB
}

// NewDefinitionStore creates a definition store over an open DB.
func NewDefinitionStore(db *DB) *DefinitionStore {
	return &DefinitionStore{db: db.Bolt()}
}

// ListByUser returns the definitions owned by userID.
func (s *DefinitionStore) ListByUser(_ context.Context, userID string) ([]core.AgentDefinition, error) {
	prefix := []byte(userID + "/")
	var defs []core.AgentDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDefinitions).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var d core.AgentDefinition
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal definition: %w", err)
			}
			defs = append(defs, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions for user %q: %w", userID, err)
	}
	return defs, nil
}

// Save creates or replaces a user-owned definition.
func (s *DefinitionStore) Save(_ context.Context, userID string, def core.AgentDefinition) error {
	if def.Immutable {
		return fmt.Errorf("immutable definition %s cannot be stored", def.ID)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to marshal definition: %w", err)
		}
		return tx.Bucket(bucketDefinitions).Put(defKey(userID, def.ID), data)
	})
}

// Delete removes a user-owned definition by id.
func (s *DefinitionStore) Delete(_ context.Context, userID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDefinitions)
		key := defKey(userID, id)
		if b.Get(key) == nil {
			return fmt.Errorf("definition %q not found", id)
		}
		return b.Delete(key)
	})
}

// TranscriptStore is a BoltDB-backed core.TranscriptStore.
type TranscriptStore struct {
	db *bolt.DB
}

// NewTranscriptStore creates a transcript store over an open DB.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db.Bolt()}
}

// Save persists one transcript and indexes it under its thread.
func (s *TranscriptStore) Save(_ context.Context, t core.Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript requires an id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal transcript: %w", err)
		}
		if err := tx.Bucket(bucketTranscripts).Put([]byte(t.ID), data); err != nil {
			return err
		}

		// Thread index: ordered list of transcript ids per thread.
		idx := tx.Bucket(bucketThreadIndex)
		var ids []string
		if raw := idx.Get([]byte(t.ThreadID)); raw != nil {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return fmt.Errorf("failed to unmarshal thread index: %w", err)
			}
		}
		for _, id := range ids {
			if id == t.ID {
				return nil // already indexed
			}
		}
		ids = append(ids, t.ID)
		raw, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("failed to marshal thread index: %w", err)
		}
		return idx.Put([]byte(t.ThreadID), raw)
	})
}

// ListByThread returns transcripts for a thread in insertion order.
func (s *TranscriptStore) ListByThread(_ context.Context, threadID string) ([]core.Transcript, error) {
	var out []core.Transcript
	err := s.db.View(func(tx *bolt.Tx) error {
		var ids []string
		if raw := tx.Bucket(bucketThreadIndex).Get([]byte(threadID)); raw != nil {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return fmt.Errorf("failed to unmarshal thread index: %w", err)
			}
		}
		b := tx.Bucket(bucketTranscripts)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var t core.Transcript
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("failed to unmarshal transcript: %w", err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts for thread %q: %w", threadID, err)
	}
	return out, nil
}
