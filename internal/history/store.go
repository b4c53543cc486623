package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketRuns = "runs"
	bucketIDs  = "ids"
)

var (
	// ErrNotFound is returned when no run matches an ID.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguousID is returned when an ID prefix matches several runs.
	ErrAmbiguousID = errors.New("run ID prefix is ambiguous")
)

// Store is a bbolt-backed run history.
//
// Runs are keyed by start time so a cursor walks them in chronological
// order. A second bucket maps run IDs to those keys.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.azbench/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".azbench", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}

	log.Debug().Str("path", path).Msg("history database opened")
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time, with the ID breaking ties.
func runKey(rec RunRecord) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.StartedAt.UnixNano()))
	return append(key, rec.ID...)
}

// Save stores rec, replacing any earlier record with the same ID.
func (s *Store) Save(rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no ID")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(bucketRuns))
		ids := tx.Bucket([]byte(bucketIDs))

		if old := ids.Get([]byte(rec.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(rec)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(rec.ID), key)
	})
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(limit int) ([]RunRecord, error) {
	var records []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Warn().Err(err).Msg("skipping unreadable history record")
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}

// Get returns the run with the given ID. A unique ID prefix is accepted.
func (s *Store) Get(id string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(bucketIDs))

		key := ids.Get([]byte(id))
		if key == nil {
			var err error
			if key, err = lookupPrefix(ids, id); err != nil {
				return err
			}
		}

		data := tx.Bucket([]byte(bucketRuns)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguousID) {
			return nil, fmt.Errorf("%w: %s", err, id)
		}
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return &rec, nil
}

// lookupPrefix finds the run key of the single ID starting with prefix.
func lookupPrefix(ids *bbolt.Bucket, prefix string) ([]byte, error) {
	var found []byte
	c := ids.Cursor()
	for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
		if found != nil {
			return nil, ErrAmbiguousID
		}
		found = append([]byte(nil), v...)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
