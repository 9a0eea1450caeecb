// Package history persists run results in a local bbolt database so past
// runs can be listed and compared.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/storeload/internal/config"
	"github.com/wesleyorama2/storeload/internal/load/runner"
)

const (
	// BucketRuns holds JSON items keyed by start time, so a cursor walks
	// them in chronological order.
	BucketRuns = "runs"
	// BucketRunIDs maps a run id to its key in BucketRuns.
	BucketRunIDs = "run_ids"

	keyTimeFormat = "20060102T150405.000000000Z"
)

// ErrNotFound is returned when no stored run matches an id.
var ErrNotFound = errors.New("run not found")

// Item is one stored run.
type Item struct {
	ID          string             `json:"id"`
	Profile     config.ProfileName `json:"profile"`
	BaseURL     string             `json:"baseUrl"`
	StartTime   time.Time          `json:"startTime"`
	Passed      bool               `json:"passed"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Summary     Summary            `json:"summary"`

	// Result is the full report. List leaves it nil.
	Result *runner.Result `json:"result,omitempty"`
}

// Summary holds the headline numbers of a run.
type Summary struct {
	Duration      time.Duration `json:"duration"`
	MaxVUs        int           `json:"maxVUs"`
	Iterations    int64         `json:"iterations"`
	TotalRequests int64         `json:"totalRequests"`
	Failed        int64         `json:"failed"`
	ErrorRate     float64       `json:"errorRate"`
	RPS           float64       `json:"rps"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
}

// NewItem builds the stored form of result.
func NewItem(result *runner.Result) Item {
	item := Item{
		ID:          result.RunID,
		Profile:     result.Profile,
		BaseURL:     result.BaseURL,
		StartTime:   result.StartTime,
		Passed:      result.Passed,
		Interrupted: result.Interrupted,
		Summary: Summary{
			Duration:   result.Duration,
			MaxVUs:     result.MaxVUs,
			Iterations: result.Iterations,
		},
		Result: result,
	}
	if m := result.Metrics; m != nil {
		item.Summary.TotalRequests = m.TotalRequests
		item.Summary.Failed = m.FailedRequests
		item.Summary.ErrorRate = m.ErrorRate
		item.Summary.RPS = m.RPS
		item.Summary.P95 = m.Latency.P95
		item.Summary.P99 = m.Latency.P99
	}
	return item
}

// Store is a bbolt-backed run history.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketRunIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(item Item) []byte {
	return []byte(item.StartTime.UTC().Format(keyTimeFormat) + "/" + item.ID)
}

// Save stores result, replacing any earlier run with the same id.
func (s *Store) Save(result *runner.Result) error {
	item := NewItem(result)
	if item.ID == "" {
		return fmt.Errorf("cannot store a run without an id")
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", item.ID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		ids := tx.Bucket([]byte(BucketRunIDs))

		if old := ids.Get([]byte(item.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(item)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(item.ID), key)
	})
}

// List returns up to limit runs, newest first, without their full result.
// A limit of zero or less returns every run.
func (s *Store) List(limit int) ([]Item, error) {
	var items []Item

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to decode run %s: %w", k, err)
			}
			item.Result = nil
			items = append(items, item)

			if limit > 0 && len(items) >= limit {
				break
			}
		}
		return nil
	})

	return items, err
}

// Get returns the run whose id is id or starts with it. An ambiguous
// prefix is an error.
func (s *Store) Get(id string) (*Item, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var item Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		key, err := lookup(tx.Bucket([]byte(BucketRunIDs)), []byte(id))
		if err != nil {
			return err
		}

		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func lookup(ids *bbolt.Bucket, prefix []byte) ([]byte, error) {
	if key := ids.Get(prefix); key != nil {
		return key, nil
	}

	var match []byte
	c := ids.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if match != nil {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", prefix)
		}
		match = v
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return match, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		ids := tx.Bucket([]byte(BucketRunIDs))

		var stale [][]byte
		seen := 0
		c := runs.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}

		for _, k := range stale {
			_, id, _ := bytes.Cut(k, []byte("/"))
			if err := ids.Delete(id); err != nil {
				return err
			}
			if err := runs.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	return removed, err
}
