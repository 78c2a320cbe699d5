// Package history keeps a durable record of every archive run so the control
// API can answer "what happened" without grepping logs.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Run is one archive processing attempt.
type Run struct {
	ID      string `json:"id"`
	Archive string `json:"archive"`
	Outcome string `json:"outcome"` // "processed" or "failed"
	Error   string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	MetricCount int    `json:"metric_count"`
	Fingerprint uint64 `json:"fingerprint"`

	Points         int `json:"points"`
	Lines          int `json:"lines"`
	BadRows        int `json:"bad_rows"`
	InvalidValues  int `json:"invalid_values"`
	FilteredValues int `json:"filtered_values"`

	ExtractSeconds  float64 `json:"extract_seconds"`
	ValidateSeconds float64 `json:"validate_seconds"`
	ExportSeconds   float64 `json:"export_seconds"`
}

// Store persists runs in BadgerDB. Keys sort by start time so recent runs
// are one reverse scan.
type Store struct {
	db *badger.DB
}

// Config holds store configuration.
type Config struct {
	Path string

	// InMemory mode, for tests.
	InMemory bool
}

// Open opens the run history database. The store sees a handful of small
// records per day, so the options lean hard toward a small footprint.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(4 * 1024 * 1024).
		WithNumMemtables(2).
		WithMaxLevels(3).
		WithNumCompactors(1).
		WithValueLogFileSize(16 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores a finished run.
func (s *Store) Append(run Run) error {
	value, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(run), value)
	})
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	var runs []Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the highest possible key
		seek := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var run Run
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Close shuts the database down cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// makeKey builds a sortable key: start timestamp then a hash of the run ID
// to break ties between runs started in the same nanosecond.
func makeKey(run Run) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(run.StartedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64String(run.ID))
	return key
}
