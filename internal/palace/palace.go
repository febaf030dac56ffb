// Package palace holds the structured domain model: palaces, their
// images, and the annotations attached to those images. The types here
// are what the record document serializes; they carry no storage logic.
package palace

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrPayloadConflict is returned when a record violates the payload
// invariant: an image payload must be stored inline (data URL) or in
// the blob store, never both.
var ErrPayloadConflict = errors.New("image payload must be either inline or a blob reference, not both")

// ErrPayloadMissing is returned when a palace image carries neither an
// inline payload nor a blob reference.
var ErrPayloadMissing = errors.New("image payload missing: neither inline data nor blob reference set")

// Vec3 is a point or Euler rotation in the viewer's 3D space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Annotation is a labeled point of interest placed on an image.
// An annotation may carry its own associated image, stored inline
// (ImageDataURL) for small payloads or in the blob store (ImageBlobKey)
// for large ones. At most one of the two is ever set.
type Annotation struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Note         string    `json:"note"`
	Position     Vec3      `json:"position"`
	Rotation     Vec3      `json:"rotation"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	IsVisible    bool      `json:"isVisible"`
	Selected     bool      `json:"selected"`
	ImageDataURL string    `json:"imageDataUrl,omitempty"`
	ImageBlobKey string    `json:"imageBlobKey,omitempty"`
	IsGenerated  bool      `json:"isGenerated,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks the annotation's payload invariant. Annotations may
// have no image at all, so only the both-set case is an error.
func (a Annotation) Validate() error {
	if a.ImageDataURL != "" && a.ImageBlobKey != "" {
		return fmt.Errorf("annotation %s: %w", a.ID, ErrPayloadConflict)
	}
	return nil
}

// Image is one panoramic or flat image belonging to a palace. Exactly
// one of DataURL and BlobKey is set: small payloads are inlined into
// the record document, large ones live in the blob store.
type Image struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	FileName    string       `json:"fileName"`
	DataURL     string       `json:"dataUrl,omitempty"`
	BlobKey     string       `json:"blobKey,omitempty"`
	ContentType string       `json:"contentType,omitempty"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Is360       bool         `json:"is360"`
	Annotations []Annotation `json:"annotations"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Validate checks the image's payload invariant and the invariants of
// its annotations.
func (img Image) Validate() error {
	if img.DataURL != "" && img.BlobKey != "" {
		return fmt.Errorf("image %s: %w", img.ID, ErrPayloadConflict)
	}
	if img.DataURL == "" && img.BlobKey == "" {
		return fmt.Errorf("image %s: %w", img.ID, ErrPayloadMissing)
	}
	for _, a := range img.Annotations {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Palace is a named collection of images representing one memorizable
// environment.
type Palace struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Images      []Image   `json:"images"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks all payload invariants in the palace graph.
func (p Palace) Validate() error {
	for _, img := range p.Images {
		if err := img.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BlobKeys returns every blob store key referenced by the palace's
// images and their annotations, in document order. Used for the delete
// cascade and for orphan audits.
func (p Palace) BlobKeys() []string {
	var keys []string
	for _, img := range p.Images {
		if img.BlobKey != "" {
			keys = append(keys, img.BlobKey)
		}
		for _, a := range img.Annotations {
			if a.ImageBlobKey != "" {
				keys = append(keys, a.ImageBlobKey)
			}
		}
	}
	return keys
}

// NewID mints a record id with a readable kind prefix, e.g.
// "palace_6f1c...". The prefix makes ids self-describing in exported
// documents and logs.
func NewID(kind string) string {
	return kind + "_" + uuid.New().String()
}

// Is360 reports whether an image of the given dimensions is likely an
// equirectangular panorama. Panoramas are 2:1; the range tolerates
// cropped or slightly off-ratio captures.
func Is360(width, height int) bool {
	if height <= 0 {
		return false
	}
	ratio := float64(width) / float64(height)
	return ratio >= 1.7 && ratio <= 2.3
}

// Clone returns a deep copy of the palace. The domain store hands out
// and snapshots copies so callers can never alias its internal state.
func (p Palace) Clone() Palace {
	cp := p
	if p.Images != nil {
		cp.Images = make([]Image, len(p.Images))
		for i, img := range p.Images {
			cp.Images[i] = img
			if img.Annotations != nil {
				cp.Images[i].Annotations = make([]Annotation, len(img.Annotations))
				copy(cp.Images[i].Annotations, img.Annotations)
			}
		}
	}
	return cp
}

// ClonePalaces deep-copies a palace slice.
func ClonePalaces(ps []Palace) []Palace {
	if ps == nil {
		return nil
	}
	out := make([]Palace, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
