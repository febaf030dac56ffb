// Package blob stores large binary image payloads in a SQLite database
// separate from the structured record document. Records reference
// payloads by generated string keys.
package blob

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested blob key does not exist.
// Callers decide whether a missing blob is an error; the display layer
// typically shows a placeholder instead of failing.
var ErrNotFound = errors.New("blob not found")

// Store is a durable blob store backed by a SQLite database in the
// data directory. The database is opened lazily on first use; opening
// is idempotent and an open failure is returned from every subsequent
// operation.
type Store struct {
	dataDir string

	once    sync.Once
	db      *sql.DB
	initErr error
}

// NewStore creates a Store rooted at dataDir without touching disk.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) init() error {
	s.once.Do(func() {
		var dsn string
		if s.dataDir == ":memory:" {
			dsn = ":memory:"
		} else {
			if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
				s.initErr = fmt.Errorf("creating data directory: %w", err)
				return
			}
			dsn = filepath.Join(s.dataDir, "blobs.db")
		}

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			s.initErr = fmt.Errorf("opening blob database: %w", err)
			return
		}
		if err := db.Ping(); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("pinging blob database: %w", err)
			return
		}

		// Limit to single connection to avoid "database is locked" errors.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("setting busy timeout: %w", err)
			return
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("setting journal mode: %w", err)
			return
		}

		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("creating blobs table: %w", err)
			return
		}

		s.db = db
	})
	return s.initErr
}

// Close closes the underlying database if it was ever opened.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newKey mints a blob key from the current time plus a random suffix,
// so rapid successive puts never collide.
func newKey() string {
	var suffix [6]byte
	rand.Read(suffix[:])
	return fmt.Sprintf("img_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix[:]))
}

// Put stores payload under a freshly generated key and returns the key.
func (s *Store) Put(payload []byte) (string, error) {
	if err := s.init(); err != nil {
		return "", err
	}
	key := newKey()
	_, err := s.db.Exec(`INSERT INTO blobs (key, data, created_at) VALUES (?, ?, ?)`,
		key, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return key, nil
}

// Get returns the payload stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, nil
}

// TempURL materializes the payload as a temporary file and returns a
// file:// URL plus a release function. The release function must be
// called when the consuming view no longer needs the URL, or the file
// leaks until process exit.
func (s *Store) TempURL(key string) (string, func(), error) {
	data, err := s.Get(key)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "memorium-blob-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file for blob %s: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("writing temp file for blob %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("closing temp file for blob %s: %w", key, err)
	}
	path := f.Name()
	release := func() { os.Remove(path) }
	return "file://" + path, release, nil
}

// Delete removes the blob stored under key. Deleting a key that does
// not exist is not an error.
func (s *Store) Delete(key string) error {
	if err := s.init(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}

// Clear removes every stored blob. Used only by the full data wipe.
func (s *Store) Clear() error {
	if err := s.init(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM blobs`); err != nil {
		return fmt.Errorf("clearing blobs: %w", err)
	}
	return nil
}

// Usage reports the number of stored blobs and their total payload
// bytes, for the status surface.
func (s *Store) Usage() (count int64, bytes int64, err error) {
	if err := s.init(); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM blobs`).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("computing blob usage: %w", err)
	}
	return count, bytes, nil
}

// Keys returns all stored keys in insertion order. Not on the happy
// path; exists for orphan detection and integrity audits.
func (s *Store) Keys() ([]string, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT key FROM blobs ORDER BY created_at ASC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing blob keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
