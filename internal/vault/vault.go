// Package vault derives encryption keys from a user passphrase and
// performs authenticated encryption of the record document.
//
// The key is PBKDF2-SHA256 over a random salt persisted in the meta
// store. The salt is generated once when encryption first writes and
// reused for every subsequent encrypt/decrypt; if the salt is lost,
// every ciphertext derived from it is permanently unrecoverable. The
// passphrase itself is never persisted anywhere.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kalambet/memorium/internal/meta"
)

const (
	// iterations is the PBKDF2 round count. Changing it invalidates
	// every existing ciphertext.
	iterations = 100_000
	keySize    = 32
	saltSize   = 16
	nonceSize  = 12

	saltKey    = "salt"
	enabledKey = "encryption_enabled"
)

// ErrAuthenticationFailed is returned when decryption fails: wrong
// password or corrupted ciphertext. Recoverable — callers prompt for
// the password again.
var ErrAuthenticationFailed = errors.New("authentication failed: wrong password or corrupted data")

// ErrSaltMissing is returned when data claims to be encrypted but no
// salt is persisted. This is data corruption; the ciphertext cannot be
// recovered.
var ErrSaltMissing = errors.New("encryption salt missing: encrypted data is unrecoverable")

// Vault binds the crypto engine to the meta store that persists the
// salt and the enabled flag.
type Vault struct {
	kv *meta.KV
}

// New creates a Vault over the given meta store.
func New(kv *meta.KV) *Vault {
	return &Vault{kv: kv}
}

// Enabled reports whether encryption is enabled for future saves.
func (v *Vault) Enabled() (bool, error) {
	val, err := v.kv.Get(enabledKey)
	if errors.Is(err, meta.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

// Enable marks encryption as enabled for future saves. The salt is
// generated lazily by the first encrypted write, not here.
func (v *Vault) Enable() error {
	return v.kv.Set(enabledKey, "true")
}

// Disable clears the enabled flag and the salt. Re-enabling later
// generates a fresh salt, so keys derived before and after share no
// relationship even for the same passphrase.
func (v *Vault) Disable() error {
	if err := v.kv.Delete(enabledKey); err != nil {
		return err
	}
	return v.kv.Delete(saltKey)
}

// Salt returns the persisted salt, or ErrSaltMissing.
func (v *Vault) Salt() ([]byte, error) {
	val, err := v.kv.Get(saltKey)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, ErrSaltMissing
	}
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("decoding persisted salt: %w", ErrSaltMissing)
	}
	return salt, nil
}

// ensureSalt returns the persisted salt, generating and persisting one
// if absent. Exactly one salt exists for the lifetime of the encrypted
// store.
func (v *Vault) ensureSalt() ([]byte, error) {
	salt, err := v.Salt()
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, ErrSaltMissing) {
		return nil, err
	}
	salt, err = NewSalt()
	if err != nil {
		return nil, err
	}
	if err := v.kv.Set(saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("persisting salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext with a key derived from password and the
// persisted salt, generating the salt on first use. The output is
// base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext, password string) (string, error) {
	salt, err := v.ensureSalt()
	if err != nil {
		return "", err
	}
	return EncryptWithSalt(plaintext, password, salt)
}

// Decrypt reverses Encrypt using the persisted salt. A wrong password
// fails deterministically with ErrAuthenticationFailed — the AEAD tag
// never lets a wrong key produce silently-wrong plaintext.
func (v *Vault) Decrypt(ciphertext, password string) (string, error) {
	salt, err := v.Salt()
	if err != nil {
		return "", err
	}
	return DecryptWithSalt(ciphertext, password, salt)
}

// DeriveKey derives the AES-256 key for password and salt.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// EncryptWithSalt encrypts plaintext with an explicit salt. Used by the
// vault itself and by encrypted backups, which carry their own salt so
// they stay decryptable on other machines.
func EncryptWithSalt(plaintext, password string, salt []byte) (string, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptWithSalt reverses EncryptWithSalt. Malformed input and wrong
// passwords both surface as ErrAuthenticationFailed.
func DecryptWithSalt(ciphertext, password string, salt []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	if len(raw) < nonceSize {
		return "", ErrAuthenticationFailed
	}
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}
