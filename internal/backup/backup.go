// Package backup serializes the full palace collection, including blob
// payloads, into a portable JSON bundle and restores such bundles.
// Bundles can optionally be wrapped in a password-protected envelope
// that carries its own salt, so a backup made on one machine decrypts
// on any other.
package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/memorium/internal/blob"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/vault"
)

// BundleVersion tags the export format.
const BundleVersion = "1.0"

// encHeader prefixes encrypted bundles. Layout is
// encHeader + base64(salt) + ":" + base64(nonce || ciphertext).
const encHeader = "MEMENC1:"

// ErrInvalidBundle is returned when input does not look like an export
// bundle, plain or encrypted.
var ErrInvalidBundle = errors.New("invalid backup bundle")

// ErrEncryptedBundle is returned by Decode when the input is an
// encrypted bundle and no password was supplied.
var ErrEncryptedBundle = errors.New("backup bundle is encrypted")

// Bundle is the portable export document. Images maps blob keys to
// base64 payloads so the bundle is self-contained.
type Bundle struct {
	Version    string            `json:"version"`
	ExportDate time.Time         `json:"exportDate"`
	Palaces    []palace.Palace   `json:"palaces"`
	Images     map[string]string `json:"images"`
}

func marshalBundle(b *Bundle) ([]byte, error) {
	if b.Images == nil {
		b.Images = map[string]string{}
	}
	return json.MarshalIndent(b, "", "  ")
}

func unmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Images == nil {
		b.Images = map[string]string{}
	}
	return &b, nil
}

// Exporter builds bundles from the current record set.
type Exporter struct {
	blobs *blob.Store
}

// NewExporter creates an Exporter over the given blob store.
func NewExporter(blobs *blob.Store) *Exporter {
	return &Exporter{blobs: blobs}
}

// Export assembles a self-contained bundle for the given palaces. Blob
// payloads are fetched concurrently; a missing blob fails the export
// rather than silently producing a bundle with dangling references.
func (e *Exporter) Export(ctx context.Context, palaces []palace.Palace) (*Bundle, error) {
	bundle := &Bundle{
		Version:    BundleVersion,
		ExportDate: time.Now().UTC(),
		Palaces:    palace.ClonePalaces(palaces),
		Images:     make(map[string]string),
	}
	if bundle.Palaces == nil {
		bundle.Palaces = []palace.Palace{}
	}

	keySet := make(map[string]bool)
	for _, p := range bundle.Palaces {
		for _, k := range p.BlobKeys() {
			keySet[k] = true
		}
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for key := range keySet {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := e.blobs.Get(key)
			if err != nil {
				return fmt.Errorf("exporting blob %s: %w", key, err)
			}
			mu.Lock()
			bundle.Images[key] = base64.StdEncoding.EncodeToString(data)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Encode serializes a bundle as JSON.
func Encode(b *Bundle) ([]byte, error) {
	data, err := marshalBundle(b)
	if err != nil {
		return nil, fmt.Errorf("serializing backup bundle: %w", err)
	}
	return data, nil
}

// EncodeEncrypted serializes a bundle and seals it with a key derived
// from password and a fresh salt embedded in the output header. The
// device's own salt is deliberately not used; the bundle must stand
// alone.
func EncodeEncrypted(b *Bundle, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("encrypted export: %w", vault.ErrAuthenticationFailed)
	}
	plain, err := marshalBundle(b)
	if err != nil {
		return nil, fmt.Errorf("serializing backup bundle: %w", err)
	}
	salt, err := vault.NewSalt()
	if err != nil {
		return nil, err
	}
	sealed, err := vault.EncryptWithSalt(string(plain), password, salt)
	if err != nil {
		return nil, err
	}
	out := encHeader + base64.StdEncoding.EncodeToString(salt) + ":" + sealed
	return []byte(out), nil
}

// IsEncrypted reports whether raw looks like an encrypted bundle.
func IsEncrypted(raw []byte) bool {
	return strings.HasPrefix(string(raw), encHeader)
}

// Decode parses a bundle from raw bytes, transparently unwrapping the
// encrypted envelope when a password is given. An encrypted bundle with
// an empty password returns ErrEncryptedBundle; a wrong password
// surfaces as vault.ErrAuthenticationFailed.
func Decode(raw []byte, password string) (*Bundle, error) {
	text := string(raw)
	if strings.HasPrefix(text, encHeader) {
		if password == "" {
			return nil, ErrEncryptedBundle
		}
		rest := strings.TrimPrefix(text, encHeader)
		saltPart, cipherPart, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed encrypted envelope", ErrInvalidBundle)
		}
		salt, err := base64.StdEncoding.DecodeString(saltPart)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed envelope salt", ErrInvalidBundle)
		}
		text, err = vault.DecryptWithSalt(cipherPart, password, salt)
		if err != nil {
			return nil, err
		}
	}

	b, err := unmarshalBundle([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if b.Palaces == nil {
		return nil, fmt.Errorf("%w: missing palaces", ErrInvalidBundle)
	}
	for _, p := range b.Palaces {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: palace without a name", ErrInvalidBundle)
		}
	}
	return b, nil
}

// Importer restores bundles into the blob store, producing palaces
// ready to append to the record set.
type Importer struct {
	blobs *blob.Store
}

// NewImporter creates an Importer over the given blob store.
func NewImporter(blobs *blob.Store) *Importer {
	return &Importer{blobs: blobs}
}

// Import materializes the bundle's blob payloads under freshly minted
// keys and returns the palaces rewritten to reference them. Palace,
// image, and annotation ids are re-minted too, so importing the same
// bundle twice yields independent copies instead of id collisions.
// Inline payloads and all annotation content are preserved as is.
func (im *Importer) Import(ctx context.Context, b *Bundle) ([]palace.Palace, error) {
	// Store every payload first so a failure mid-import never leaves
	// records pointing at blobs that were never written.
	keyMap := make(map[string]string, len(b.Images))
	for oldKey, encoded := range b.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: blob %s payload is not base64", ErrInvalidBundle, oldKey)
		}
		newKey, err := im.blobs.Put(data)
		if err != nil {
			return nil, fmt.Errorf("importing blob %s: %w", oldKey, err)
		}
		keyMap[oldKey] = newKey
	}

	now := time.Now().UTC()
	palaces := palace.ClonePalaces(b.Palaces)
	for pi := range palaces {
		p := &palaces[pi]
		p.ID = palace.NewID("palace")
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		for ii := range p.Images {
			img := &p.Images[ii]
			img.ID = palace.NewID("img")
			if img.BlobKey != "" {
				mapped, ok := keyMap[img.BlobKey]
				if !ok {
					return nil, fmt.Errorf("%w: image %s references blob %s absent from bundle", ErrInvalidBundle, img.Name, img.BlobKey)
				}
				img.BlobKey = mapped
			}
			if img.Annotations == nil {
				img.Annotations = []palace.Annotation{}
			}
			for ai := range img.Annotations {
				a := &img.Annotations[ai]
				a.ID = palace.NewID("ann")
				a.Selected = false
				if a.ImageBlobKey != "" {
					mapped, ok := keyMap[a.ImageBlobKey]
					if !ok {
						return nil, fmt.Errorf("%w: annotation references blob %s absent from bundle", ErrInvalidBundle, a.ImageBlobKey)
					}
					a.ImageBlobKey = mapped
				}
			}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
	}
	return palaces, nil
}
