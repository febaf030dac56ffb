// Package records is the single source of truth for where the palace
// document lives and whether it is encrypted at rest. It serializes the
// palace collection as one versioned JSON document in the meta store,
// passing it through the vault when encryption is enabled.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/vault"
)

// DocumentVersion tags the persisted document format.
const DocumentVersion = "2.0.0"

const (
	palacesKey   = "palaces"
	encryptedKey = "palaces_encrypted"
)

// ErrPasswordRequired is returned when the stored document is encrypted
// and no password is available. The caller must obtain credentials and
// retry; core code never prompts.
var ErrPasswordRequired = errors.New("password required")

// ErrCorruptDocument is returned when the stored document cannot be
// parsed. The data may be unrecoverable.
var ErrCorruptDocument = errors.New("corrupt record document")

// Document is the persisted shape of the structured records.
type Document struct {
	Version     string          `json:"version"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Palaces     []palace.Palace `json:"palaces"`
}

// Store persists the palace document, optionally encrypted.
//
// The session password is a process-lifetime credential cache: set once
// after a successful unlock, consulted by every save so the user is not
// re-prompted, never written to disk.
type Store struct {
	kv    *meta.KV
	vault *vault.Vault

	mu              sync.Mutex
	sessionPassword string
}

// New creates a Store over the given meta store and vault.
func New(kv *meta.KV, v *vault.Vault) *Store {
	return &Store{kv: kv, vault: v}
}

// Vault exposes the crypto engine for enable/disable flows.
func (s *Store) Vault() *vault.Vault {
	return s.vault
}

// SetSessionPassword caches the password for the rest of the process.
func (s *Store) SetSessionPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionPassword = password
}

// ClearSessionPassword drops the cached password.
func (s *Store) ClearSessionPassword() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionPassword = ""
}

func (s *Store) password(supplied string) string {
	if supplied != "" {
		return supplied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionPassword
}

// Encrypted reports whether the currently stored document is encrypted.
// Distinct from the vault's enabled flag, which governs future saves.
func (s *Store) Encrypted() (bool, error) {
	val, err := s.kv.Get(encryptedKey)
	if errors.Is(err, meta.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

// Save serializes palaces and writes the document under the fixed key.
// When encryption is enabled (or the stored document is already
// encrypted), the document is encrypted with password — or the cached
// session password — before the write; without either, Save returns
// ErrPasswordRequired and writes nothing.
func (s *Store) Save(palaces []palace.Palace, password string) error {
	doc := Document{
		Version:     DocumentVersion,
		LastUpdated: time.Now().UTC(),
		Palaces:     palaces,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serializing record document: %w", err)
	}

	enabled, err := s.vault.Enabled()
	if err != nil {
		return err
	}
	encrypted, err := s.Encrypted()
	if err != nil {
		return err
	}

	if enabled || encrypted {
		pw := s.password(password)
		if pw == "" {
			return ErrPasswordRequired
		}
		ciphertext, err := s.vault.Encrypt(string(data), pw)
		if err != nil {
			return err
		}
		// Document and flag land in one transaction: a crash can never
		// leave ciphertext marked as plaintext or the reverse.
		if err := s.kv.SetMany(map[string]string{
			palacesKey:   ciphertext,
			encryptedKey: "true",
		}); err != nil {
			return err
		}
		s.SetSessionPassword(pw)
		return nil
	}

	return s.kv.SetMany(map[string]string{
		palacesKey:   string(data),
		encryptedKey: "false",
	})
}

// SavePlaintext writes the document unencrypted and clears the
// encrypted flag in the same transaction, regardless of the vault's
// enabled flag. Only the disable-encryption flow uses it.
func (s *Store) SavePlaintext(palaces []palace.Palace) error {
	doc := Document{
		Version:     DocumentVersion,
		LastUpdated: time.Now().UTC(),
		Palaces:     palaces,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serializing record document: %w", err)
	}
	return s.kv.SetMany(map[string]string{
		palacesKey:   string(data),
		encryptedKey: "false",
	})
}

// Load reads the document and returns its palaces. No stored document
// yields an empty collection, not an error. An encrypted document
// requires a password (supplied or cached); a wrong one propagates
// vault.ErrAuthenticationFailed.
func (s *Store) Load(password string) ([]palace.Palace, error) {
	stored, err := s.kv.Get(palacesKey)
	if errors.Is(err, meta.ErrNotFound) {
		return []palace.Palace{}, nil
	}
	if err != nil {
		return nil, err
	}

	encrypted, err := s.Encrypted()
	if err != nil {
		return nil, err
	}

	text := stored
	if encrypted {
		pw := s.password(password)
		if pw == "" {
			return nil, ErrPasswordRequired
		}
		text, err = s.vault.Decrypt(stored, pw)
		if err != nil {
			return nil, err
		}
		s.SetSessionPassword(pw)
	}

	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if doc.Palaces == nil {
		doc.Palaces = []palace.Palace{}
	}
	return doc.Palaces, nil
}

// VerifyPassword probes a decrypt of the stored document without
// mutating any state. A missing or unencrypted document verifies
// trivially. Authentication failure returns false, not an error, so
// callers can drive retry-limited prompts.
func (s *Store) VerifyPassword(password string) (bool, error) {
	stored, err := s.kv.Get(palacesKey)
	if errors.Is(err, meta.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	encrypted, err := s.Encrypted()
	if err != nil {
		return false, err
	}
	if !encrypted {
		return true, nil
	}
	if _, err := s.vault.Decrypt(stored, password); err != nil {
		if errors.Is(err, vault.ErrAuthenticationFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Reset removes the stored document and its encrypted flag. Used by
// the full data wipe; the vault's salt and flag are cleared separately.
func (s *Store) Reset() error {
	if err := s.kv.Delete(palacesKey); err != nil {
		return err
	}
	if err := s.kv.Delete(encryptedKey); err != nil {
		return err
	}
	s.ClearSessionPassword()
	return nil
}
