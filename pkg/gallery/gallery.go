// Package gallery provides a persistent, badger-backed store for the
// Verify stage's curated reference embeddings: a small, independently
// curated set of label -> reference-vector entries distinct from the
// bulk LabelBank shard (spec.md §4.3).
//
// Modeled on this codebase's BadgerEngine: a single badger.DB guarded
// by an RWMutex for the closed flag, single-byte key prefixes for
// logical tables, and JSON-encoded values.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound     = errors.New("gallery: entry not found")
	ErrInvalidLabel = errors.New("gallery: invalid label")
	ErrStoreClosed  = errors.New("gallery: store closed")
)

const (
	prefixEntry      = byte(0x01) // entry:label:0x00:entryID -> Entry
	prefixLabelIndex = byte(0x02) // labelidx:label:0x00:entryID -> empty
)

// Entry is one curated reference embedding in a label's gallery.
type Entry struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding"`
	// Source records where the embedding came from (e.g. "promotion:seq-1024").
	Source string `json:"source"`
}

// Store is a persistent gallery of curated embeddings, keyed by label.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Options configures the gallery store.
type Options struct {
	DataDir  string
	InMemory bool
}

// Open opens (creating if necessary) a gallery store at opts.DataDir.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	badgerOpts.InMemory = opts.InMemory
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("gallery: open store: %w", err)
	}
	return &Store{db: db}, nil
}

func entryKey(label, id string) []byte {
	norm := strings.ToLower(label)
	key := make([]byte, 0, 1+len(norm)+1+len(id))
	key = append(key, prefixEntry)
	key = append(key, []byte(norm)...)
	key = append(key, 0x00)
	key = append(key, []byte(id)...)
	return key
}

func labelIndexKey(label, id string) []byte {
	norm := strings.ToLower(label)
	key := make([]byte, 0, 1+len(norm)+1+len(id))
	key = append(key, prefixLabelIndex)
	key = append(key, []byte(norm)...)
	key = append(key, 0x00)
	key = append(key, []byte(id)...)
	return key
}

func labelPrefix(label string) []byte {
	norm := strings.ToLower(label)
	key := make([]byte, 0, 1+len(norm)+1)
	key = append(key, prefixEntry)
	key = append(key, []byte(norm)...)
	key = append(key, 0x00)
	return key
}

// Put stores or overwrites an entry.
func (s *Store) Put(e Entry) error {
	if e.Label == "" || e.ID == "" {
		return ErrInvalidLabel
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("gallery: encode entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(e.Label, e.ID), data); err != nil {
			return err
		}
		return txn.Set(labelIndexKey(e.Label, e.ID), []byte{})
	})
}

// Get retrieves one entry by label and id.
func (s *Store) Get(label, id string) (Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(label, id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, err
}

// ByLabel returns every entry currently curated for label.
func (s *Store) ByLabel(label string) ([]Entry, error) {
	var entries []Entry
	prefix := labelPrefix(label)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// Delete removes one entry.
func (s *Store) Delete(label, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(entryKey(label, id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(labelIndexKey(label, id))
	})
}

// Labels returns every distinct label with at least one curated entry.
func (s *Store) Labels() ([]string, error) {
	seen := map[string]struct{}{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixLabelIndex}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			rest := key[1:]
			sep := indexByte(rest, 0x00)
			if sep < 0 {
				continue
			}
			seen[string(rest[:sep])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	return labels, nil
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}

// Close flushes and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Count returns the number of curated entries, counted with badger's
// key-only iterator for a lightweight scan.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixEntry}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
