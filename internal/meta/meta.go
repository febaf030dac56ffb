// Package meta is a small key-value document store backed by SQLite.
// It holds the serialized palace document, the encryption flags and
// salt, and the recall history — everything except large binary
// payloads, which live in the blob store.
package meta

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrQuotaExceeded is returned when a value exceeds the per-value size
// cap. The caller should tell the user to export or delete data.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// DefaultQuota caps a single stored value at 5 MiB, mirroring the
// practical limit of the small-object store this design targets.
const DefaultQuota = 5 << 20

// KV is a durable key-value store opened lazily on first use.
type KV struct {
	dataDir string
	quota   int

	once    sync.Once
	db      *sql.DB
	initErr error
}

// NewKV creates a KV rooted at dataDir without touching disk. Pass
// ":memory:" as dataDir for an in-memory database (used by tests).
func NewKV(dataDir string) *KV {
	return &KV{dataDir: dataDir, quota: DefaultQuota}
}

func (k *KV) init() error {
	k.once.Do(func() {
		var dsn string
		if k.dataDir == ":memory:" {
			dsn = ":memory:"
		} else {
			if err := os.MkdirAll(k.dataDir, 0o755); err != nil {
				k.initErr = fmt.Errorf("creating data directory: %w", err)
				return
			}
			dsn = filepath.Join(k.dataDir, "meta.db")
		}

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			k.initErr = fmt.Errorf("opening meta database: %w", err)
			return
		}
		if err := db.Ping(); err != nil {
			db.Close()
			k.initErr = fmt.Errorf("pinging meta database: %w", err)
			return
		}

		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			k.initErr = fmt.Errorf("setting busy timeout: %w", err)
			return
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			k.initErr = fmt.Errorf("setting journal mode: %w", err)
			return
		}

		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`); err != nil {
			db.Close()
			k.initErr = fmt.Errorf("creating settings table: %w", err)
			return
		}

		k.db = db
	})
	return k.initErr
}

// Close closes the underlying database if it was ever opened.
func (k *KV) Close() error {
	if k.db == nil {
		return nil
	}
	return k.db.Close()
}

// Get returns the value stored under key, or ErrNotFound.
func (k *KV) Get(key string) (string, error) {
	if err := k.init(); err != nil {
		return "", err
	}
	var value string
	err := k.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, nil
}

// Set writes value under key, replacing any previous value. Values
// larger than the quota are rejected with ErrQuotaExceeded.
func (k *KV) Set(key, value string) error {
	if err := k.init(); err != nil {
		return err
	}
	if len(value) > k.quota {
		return fmt.Errorf("value for key %s is %d bytes: %w", key, len(value), ErrQuotaExceeded)
	}
	_, err := k.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// SetMany writes several keys in one transaction. Either every entry
// lands or none does, so related values (a document and its flag) can
// never be observed half-written. Each value is quota-checked before
// the transaction starts.
func (k *KV) SetMany(entries map[string]string) error {
	if err := k.init(); err != nil {
		return err
	}
	for key, value := range entries {
		if len(value) > k.quota {
			return fmt.Errorf("value for key %s is %d bytes: %w", key, len(value), ErrQuotaExceeded)
		}
	}

	tx, err := k.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range entries {
		if _, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing key %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing keys: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (k *KV) Delete(key string) error {
	if err := k.init(); err != nil {
		return err
	}
	if _, err := k.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys in ascending order.
func (k *KV) Keys() ([]string, error) {
	if err := k.init(); err != nil {
		return nil, err
	}
	rows, err := k.db.Query(`SELECT key FROM settings ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Clear removes every key. Used only by the full data wipe.
func (k *KV) Clear() error {
	if err := k.init(); err != nil {
		return err
	}
	if _, err := k.db.Exec(`DELETE FROM settings`); err != nil {
		return fmt.Errorf("clearing settings: %w", err)
	}
	return nil
}

// Usage reports the total bytes stored (keys plus values) against the
// per-value quota, for the status surface.
func (k *KV) Usage() (used, quota int64, err error) {
	if err := k.init(); err != nil {
		return 0, 0, err
	}
	err = k.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM settings`).Scan(&used)
	if err != nil {
		return 0, 0, fmt.Errorf("computing usage: %w", err)
	}
	return used, int64(k.quota), nil
}
