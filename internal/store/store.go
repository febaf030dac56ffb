// Package store holds the authoritative in-memory copy of all palace
// records and is the only component allowed to mutate them. Every
// mutation applies synchronously in memory, then schedules a durable
// save through the record store; reads never block on storage.
//
// The store also owns the blob-reference invariant: whenever the last
// record referencing a blob is deleted, the blob is deleted too, and a
// blob still referenced elsewhere is never touched.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/memorium/internal/blob"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/records"
	"github.com/kalambet/memorium/internal/vault"
)

// ErrImageIndexOutOfRange is returned by SetCurrentImage for an index
// outside the current palace's image list.
var ErrImageIndexOutOfRange = errors.New("image index out of range")

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Store is the application state container. Construct one at startup
// with New and inject it into every consumer; there is no package-level
// instance.
type Store struct {
	logger  *slog.Logger
	blobs   *blob.Store
	records *records.Store

	mu                sync.Mutex
	palaces           []palace.Palace
	currentPalaceID   string
	currentImageIndex int

	// Save path: mutations overwrite the pending snapshot and poke the
	// writer goroutine. A single writer means two saves can never
	// interleave, and coalescing means a burst of mutations produces
	// at most one trailing write.
	saveMu  sync.Mutex
	pending []palace.Palace
	saveCh  chan struct{}
	quit    chan struct{}
	done    chan struct{}
	closed  sync.Once

	// flushMu spans a whole flush so Wipe can wait out an in-flight
	// write before resetting the record store.
	flushMu sync.Mutex
}

// New creates a Store and starts its background writer.
func New(blobs *blob.Store, recs *records.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger:  logger,
		blobs:   blobs,
		records: recs,
		palaces: []palace.Palace{},
		saveCh:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.runWriter()
	return s
}

// Close stops the writer and flushes any pending snapshot.
func (s *Store) Close() {
	s.closed.Do(func() {
		close(s.quit)
		<-s.done
	})
}

func (s *Store) runWriter() {
	defer close(s.done)
	for {
		select {
		case <-s.saveCh:
			s.flushPending()
		case <-s.quit:
			// Final flush so the last mutation before shutdown is durable.
			s.flushPending()
			return
		}
	}
}

func (s *Store) flushPending() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.saveMu.Lock()
	snapshot := s.pending
	s.pending = nil
	s.saveMu.Unlock()
	if snapshot == nil {
		return
	}
	if err := s.records.Save(snapshot, ""); err != nil {
		// In-memory state stays as the last known good state; the
		// mutation already succeeded before persistence was attempted.
		if errors.Is(err, records.ErrPasswordRequired) {
			s.logger.Warn("save skipped: no session password; changes are not durable until unlock")
		} else {
			s.logger.Error("persisting record document failed", "error", err)
		}
	}
}

// scheduleSave snapshots the current palace collection for the writer.
// Must be called with s.mu held.
func (s *Store) scheduleSave() {
	snapshot := palace.ClonePalaces(s.palaces)
	s.saveMu.Lock()
	s.pending = snapshot
	s.saveMu.Unlock()
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

// Load replaces the in-memory collection with the persisted document.
// An encrypted document needs a password: records.ErrPasswordRequired
// and vault.ErrAuthenticationFailed propagate for the caller's retry
// flow.
func (s *Store) Load(password string) error {
	palaces, err := s.records.Load(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.palaces = palaces
	s.currentPalaceID = ""
	s.currentImageIndex = 0
	return nil
}

// SaveNow performs a synchronous durable save, bypassing the writer.
// Used by flows that must observe the save result directly, such as
// enabling encryption.
func (s *Store) SaveNow(password string) error {
	s.mu.Lock()
	snapshot := palace.ClonePalaces(s.palaces)
	s.mu.Unlock()
	return s.records.Save(snapshot, password)
}

// Palaces returns a deep copy of all palaces.
func (s *Store) Palaces() []palace.Palace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return palace.ClonePalaces(s.palaces)
}

// Palace returns a deep copy of one palace.
func (s *Store) Palace(id string) (palace.Palace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.palaces {
		if s.palaces[i].ID == id {
			return s.palaces[i].Clone(), nil
		}
	}
	return palace.Palace{}, fmt.Errorf("palace %s: %w", id, palace.ErrNotFound)
}

// indexOf returns the slice index of a palace. Must be called with
// s.mu held.
func (s *Store) indexOf(id string) int {
	for i := range s.palaces {
		if s.palaces[i].ID == id {
			return i
		}
	}
	return -1
}

// AddPalace creates a palace from the given data, makes it the current
// selection, and schedules a save. Image and annotation ids are minted
// here if absent.
func (s *Store) AddPalace(name, description string, images []palace.Image) (palace.Palace, error) {
	now := nowUTC()
	p := palace.Palace{
		ID:          palace.NewID("palace"),
		Name:        name,
		Description: description,
		Images:      images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Images == nil {
		p.Images = []palace.Image{}
	}
	for i := range p.Images {
		if p.Images[i].ID == "" {
			p.Images[i].ID = palace.NewID("img")
		}
		if p.Images[i].CreatedAt.IsZero() {
			p.Images[i].CreatedAt = now
		}
		if p.Images[i].Annotations == nil {
			p.Images[i].Annotations = []palace.Annotation{}
		}
	}
	if err := p.Validate(); err != nil {
		return palace.Palace{}, err
	}

	s.mu.Lock()
	s.palaces = append(s.palaces, p)
	s.currentPalaceID = p.ID
	s.currentImageIndex = 0
	out := p.Clone()
	s.scheduleSave()
	s.mu.Unlock()
	return out, nil
}

// DeletePalace removes a palace after deleting every blob owned by its
// images and their annotations. Clears the current selection if it
// pointed at the deleted palace.
func (s *Store) DeletePalace(id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("palace %s: %w", id, palace.ErrNotFound)
	}
	keys := s.palaces[idx].BlobKeys()
	s.mu.Unlock()

	// Cascade first: if a blob delete fails the records still reference
	// it and a later audit can retry, rather than orphaning payloads.
	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			return fmt.Errorf("deleting blob %s for palace %s: %w", key, id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx = s.indexOf(id)
	if idx < 0 {
		return nil
	}
	s.palaces = append(s.palaces[:idx], s.palaces[idx+1:]...)
	if s.currentPalaceID == id {
		s.currentPalaceID = ""
		s.currentImageIndex = 0
	}
	s.scheduleSave()
	return nil
}

// PalaceUpdate is a partial update; nil fields are left unchanged.
// Images and annotations are not updatable through this path — they
// have their own operations that manage blob ownership.
type PalaceUpdate struct {
	Name        *string
	Description *string
}

// UpdatePalace merges the update into the palace, bumps UpdatedAt, and
// schedules a save.
func (s *Store) UpdatePalace(id string, upd PalaceUpdate) (palace.Palace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return palace.Palace{}, fmt.Errorf("palace %s: %w", id, palace.ErrNotFound)
	}
	p := &s.palaces[idx]
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.UpdatedAt = nowUTC()
	out := p.Clone()
	s.scheduleSave()
	return out, nil
}

// AddImage appends an image to a palace. The image must already carry
// its payload (inline or blob key); its id is minted here if absent.
func (s *Store) AddImage(palaceID string, img palace.Image) (palace.Image, error) {
	if img.ID == "" {
		img.ID = palace.NewID("img")
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = nowUTC()
	}
	if img.Annotations == nil {
		img.Annotations = []palace.Annotation{}
	}
	if err := img.Validate(); err != nil {
		return palace.Image{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(palaceID)
	if idx < 0 {
		return palace.Image{}, fmt.Errorf("palace %s: %w", palaceID, palace.ErrNotFound)
	}
	p := &s.palaces[idx]
	p.Images = append(p.Images, img)
	p.UpdatedAt = nowUTC()
	s.scheduleSave()
	return img, nil
}

// DeleteImage removes an image and deletes its owned blobs (the image's
// own payload and those of its annotations).
func (s *Store) DeleteImage(palaceID, imageID string) error {
	s.mu.Lock()
	pIdx := s.indexOf(palaceID)
	if pIdx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("palace %s: %w", palaceID, palace.ErrNotFound)
	}
	var keys []string
	iIdx := -1
	for i, img := range s.palaces[pIdx].Images {
		if img.ID == imageID {
			iIdx = i
			if img.BlobKey != "" {
				keys = append(keys, img.BlobKey)
			}
			for _, a := range img.Annotations {
				if a.ImageBlobKey != "" {
					keys = append(keys, a.ImageBlobKey)
				}
			}
			break
		}
	}
	s.mu.Unlock()
	if iIdx < 0 {
		return fmt.Errorf("image %s: %w", imageID, palace.ErrNotFound)
	}

	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			return fmt.Errorf("deleting blob %s for image %s: %w", key, imageID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pIdx = s.indexOf(palaceID)
	if pIdx < 0 {
		return nil
	}
	p := &s.palaces[pIdx]
	for i, img := range p.Images {
		if img.ID == imageID {
			p.Images = append(p.Images[:i], p.Images[i+1:]...)
			break
		}
	}
	p.UpdatedAt = nowUTC()
	if s.currentPalaceID == palaceID && s.currentImageIndex >= len(p.Images) && s.currentImageIndex > 0 {
		s.currentImageIndex = len(p.Images) - 1
		if s.currentImageIndex < 0 {
			s.currentImageIndex = 0
		}
	}
	s.scheduleSave()
	return nil
}

// findImage locates an image within a palace. Must be called with
// s.mu held.
func (s *Store) findImage(palaceID, imageID string) (*palace.Palace, *palace.Image, error) {
	idx := s.indexOf(palaceID)
	if idx < 0 {
		return nil, nil, fmt.Errorf("palace %s: %w", palaceID, palace.ErrNotFound)
	}
	p := &s.palaces[idx]
	for i := range p.Images {
		if p.Images[i].ID == imageID {
			return p, &p.Images[i], nil
		}
	}
	return nil, nil, fmt.Errorf("image %s: %w", imageID, palace.ErrNotFound)
}

// AddAnnotation appends an annotation to the target image, minting its
// id and creation timestamp.
func (s *Store) AddAnnotation(palaceID, imageID string, ann palace.Annotation) (palace.Annotation, error) {
	if ann.ID == "" {
		ann.ID = palace.NewID("ann")
	}
	now := nowUTC()
	ann.CreatedAt = now
	ann.UpdatedAt = now
	if err := ann.Validate(); err != nil {
		return palace.Annotation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, img, err := s.findImage(palaceID, imageID)
	if err != nil {
		return palace.Annotation{}, err
	}
	img.Annotations = append(img.Annotations, ann)
	p.UpdatedAt = now
	s.scheduleSave()
	return ann, nil
}

// AnnotationUpdate is a partial annotation update; nil fields are left
// unchanged. Setting ImageDataURL or ImageBlobKey replaces the
// annotation's image payload; the previous blob (if any) is deleted by
// the store so no orphan is left behind.
type AnnotationUpdate struct {
	Text         *string
	Note         *string
	Position     *palace.Vec3
	Rotation     *palace.Vec3
	Width        *float64
	Height       *float64
	IsVisible    *bool
	Selected     *bool
	ImageDataURL *string
	ImageBlobKey *string
}

// UpdateAnnotation merges the update into the annotation and schedules
// a save. A payload change releases the blob the annotation previously
// owned.
func (s *Store) UpdateAnnotation(palaceID, imageID, annotationID string, upd AnnotationUpdate) (palace.Annotation, error) {
	s.mu.Lock()
	_, img, err := s.findImage(palaceID, imageID)
	if err != nil {
		s.mu.Unlock()
		return palace.Annotation{}, err
	}
	var oldBlobKey string
	aIdx := -1
	for i := range img.Annotations {
		if img.Annotations[i].ID == annotationID {
			aIdx = i
			oldBlobKey = img.Annotations[i].ImageBlobKey
			break
		}
	}
	s.mu.Unlock()
	if aIdx < 0 {
		return palace.Annotation{}, fmt.Errorf("annotation %s: %w", annotationID, palace.ErrNotFound)
	}

	replacesPayload := upd.ImageDataURL != nil || upd.ImageBlobKey != nil
	if replacesPayload && oldBlobKey != "" {
		newKey := ""
		if upd.ImageBlobKey != nil {
			newKey = *upd.ImageBlobKey
		}
		if newKey != oldBlobKey {
			if err := s.blobs.Delete(oldBlobKey); err != nil {
				return palace.Annotation{}, fmt.Errorf("deleting replaced blob %s: %w", oldBlobKey, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, img, err := s.findImage(palaceID, imageID)
	if err != nil {
		return palace.Annotation{}, err
	}
	var a *palace.Annotation
	for i := range img.Annotations {
		if img.Annotations[i].ID == annotationID {
			a = &img.Annotations[i]
			break
		}
	}
	if a == nil {
		return palace.Annotation{}, fmt.Errorf("annotation %s: %w", annotationID, palace.ErrNotFound)
	}

	if upd.Text != nil {
		a.Text = *upd.Text
	}
	if upd.Note != nil {
		a.Note = *upd.Note
	}
	if upd.Position != nil {
		a.Position = *upd.Position
	}
	if upd.Rotation != nil {
		a.Rotation = *upd.Rotation
	}
	if upd.Width != nil {
		a.Width = *upd.Width
	}
	if upd.Height != nil {
		a.Height = *upd.Height
	}
	if upd.IsVisible != nil {
		a.IsVisible = *upd.IsVisible
	}
	if upd.Selected != nil {
		a.Selected = *upd.Selected
	}
	if replacesPayload {
		a.ImageDataURL = ""
		a.ImageBlobKey = ""
		if upd.ImageDataURL != nil {
			a.ImageDataURL = *upd.ImageDataURL
		}
		if upd.ImageBlobKey != nil {
			a.ImageBlobKey = *upd.ImageBlobKey
		}
	}
	if err := a.Validate(); err != nil {
		return palace.Annotation{}, err
	}
	now := nowUTC()
	a.UpdatedAt = now
	p.UpdatedAt = now
	out := *a
	s.scheduleSave()
	return out, nil
}

// DeleteAnnotation deletes the annotation's owned blob (if any) first,
// then removes it from the image and schedules a save.
func (s *Store) DeleteAnnotation(palaceID, imageID, annotationID string) error {
	s.mu.Lock()
	_, img, err := s.findImage(palaceID, imageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var blobKey string
	found := false
	for _, a := range img.Annotations {
		if a.ID == annotationID {
			blobKey = a.ImageBlobKey
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("annotation %s: %w", annotationID, palace.ErrNotFound)
	}

	if blobKey != "" {
		if err := s.blobs.Delete(blobKey); err != nil {
			return fmt.Errorf("deleting blob %s for annotation %s: %w", blobKey, annotationID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, img, err := s.findImage(palaceID, imageID)
	if err != nil {
		return err
	}
	for i := range img.Annotations {
		if img.Annotations[i].ID == annotationID {
			img.Annotations = append(img.Annotations[:i], img.Annotations[i+1:]...)
			break
		}
	}
	p.UpdatedAt = nowUTC()
	s.scheduleSave()
	return nil
}

// SetCurrentPalace selects a palace (or clears the selection with "").
// Selection is session state only: it is never written into the
// persisted document.
func (s *Store) SetCurrentPalace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.indexOf(id) < 0 {
		return fmt.Errorf("palace %s: %w", id, palace.ErrNotFound)
	}
	s.currentPalaceID = id
	s.currentImageIndex = 0
	return nil
}

// SetCurrentImage selects an image index within the current palace.
func (s *Store) SetCurrentImage(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPalaceID != "" {
		idx := s.indexOf(s.currentPalaceID)
		if idx >= 0 && (index < 0 || index >= len(s.palaces[idx].Images)) {
			return fmt.Errorf("index %d: %w", index, ErrImageIndexOutOfRange)
		}
	}
	s.currentImageIndex = index
	return nil
}

// Selection returns the session-only view state.
func (s *Store) Selection() (palaceID string, imageIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPalaceID, s.currentImageIndex
}

// ImportPalaces appends restored palaces (already re-keyed by the
// backup importer) to the collection and schedules a save.
func (s *Store) ImportPalaces(ps []palace.Palace) error {
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.palaces = append(s.palaces, palace.ClonePalaces(ps)...)
	s.scheduleSave()
	return nil
}

// EnableEncryption turns on encryption at rest and immediately
// re-saves the document encrypted under password. On save failure the
// enabled flag is rolled back so the store is never left claiming an
// encryption state it could not establish.
func (s *Store) EnableEncryption(password string) error {
	if password == "" {
		return records.ErrPasswordRequired
	}
	v := s.records.Vault()
	if err := v.Enable(); err != nil {
		return err
	}
	if err := s.SaveNow(password); err != nil {
		if derr := v.Disable(); derr != nil {
			s.logger.Error("rolling back encryption enable failed", "error", derr)
		}
		return err
	}
	return nil
}

// DisableEncryption verifies password, then re-saves the document as
// plaintext and clears the salt. Returns
// vault.ErrAuthenticationFailed for a wrong password.
func (s *Store) DisableEncryption(password string) error {
	ok, err := s.records.VerifyPassword(password)
	if err != nil {
		return err
	}
	if !ok {
		return vault.ErrAuthenticationFailed
	}
	// Make sure the in-memory state reflects the stored document before
	// it is rewritten.
	if err := s.Load(password); err != nil {
		return err
	}
	// Rewrite the document plaintext first, in one transaction with the
	// flag clear. A crash after this point leaves a readable store with
	// a stale salt, which the vault disable below merely tidies up.
	s.mu.Lock()
	snapshot := palace.ClonePalaces(s.palaces)
	s.mu.Unlock()
	if err := s.records.SavePlaintext(snapshot); err != nil {
		return err
	}
	s.records.ClearSessionPassword()
	return s.records.Vault().Disable()
}

// Unlock loads the encrypted document with password, caching it for
// the session on success.
func (s *Store) Unlock(password string) error {
	return s.Load(password)
}

// Lock drops the cached session password. Data stays in memory; the
// next save after Lock fails until the store is unlocked again.
func (s *Store) Lock() {
	s.records.ClearSessionPassword()
}

// Encrypted reports whether the stored document is encrypted.
func (s *Store) Encrypted() (bool, error) {
	return s.records.Encrypted()
}

// Wipe deletes everything: in-memory state, the persisted document,
// the encryption flags and salt, and every blob.
func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	s.palaces = []palace.Palace{}
	s.currentPalaceID = ""
	s.currentImageIndex = 0
	s.mu.Unlock()

	// Drop any pending snapshot so the writer cannot resurrect data,
	// then wait out any flush already in flight.
	s.saveMu.Lock()
	s.pending = nil
	s.saveMu.Unlock()
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.records.Reset(); err != nil {
		return err
	}
	if err := s.records.Vault().Disable(); err != nil {
		return err
	}
	return s.blobs.Clear()
}

// OrphanedBlobs returns blob keys present in the blob store but not
// referenced by any record. Integrity audit surface; never called on
// the happy path.
func (s *Store) OrphanedBlobs() ([]string, error) {
	keys, err := s.blobs.Keys()
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool)
	s.mu.Lock()
	for _, p := range s.palaces {
		for _, k := range p.BlobKeys() {
			referenced[k] = true
		}
	}
	s.mu.Unlock()

	var orphans []string
	for _, k := range keys {
		if !referenced[k] {
			orphans = append(orphans, k)
		}
	}
	return orphans, nil
}
