package api

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/store"
)

// maxImageBodySize bounds one image upload request.
const maxImageBodySize = 64 << 20

func handleListPalaces(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Store.Palaces())
	}
}

type createPalaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleCreatePalace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPalaceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		p, err := deps.Store.AddPalace(req.Name, req.Description, nil)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleGetPalace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.Palace(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type updatePalaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func handleUpdatePalace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updatePalaceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name != nil && *req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name must not be empty")
			return
		}
		p, err := deps.Store.UpdatePalace(chi.URLParam(r, "id"), store.PalaceUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePalace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeletePalace(id); err != nil {
			domainError(w, err)
			return
		}
		// Recall history for a deleted palace is meaningless; drop it.
		if err := deps.Recall.DeleteFor(id); err != nil {
			deps.Logger.Warn("deleting recall history failed", "palace", id, "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type addImageRequest struct {
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"` // base64 payload
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

func handleAddImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBodySize)
		var req addImageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Data == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is required")
			return
		}
		payload, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is not valid base64")
			return
		}

		img := palace.Image{
			Name:        req.Name,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Width:       req.Width,
			Height:      req.Height,
			Is360:       palace.Is360(req.Width, req.Height),
		}

		// Small payloads inline into the record document; large ones go
		// to the blob store and the record carries only the key.
		if len(payload) <= palace.InlineLimit {
			img.DataURL = palace.EncodeDataURL(req.ContentType, payload)
		} else {
			key, err := deps.Blobs.Put(payload)
			if err != nil {
				domainError(w, err)
				return
			}
			img.BlobKey = key
		}

		stored, err := deps.Store.AddImage(chi.URLParam(r, "id"), img)
		if err != nil {
			if img.BlobKey != "" {
				if derr := deps.Blobs.Delete(img.BlobKey); derr != nil {
					deps.Logger.Warn("cleaning up blob after failed image add", "key", img.BlobKey, "error", derr)
				}
			}
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
}

func handleDeleteImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteImage(chi.URLParam(r, "id"), chi.URLParam(r, "imageID")); err != nil {
			domainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type annotationRequest struct {
	Text      string        `json:"text"`
	Note      string        `json:"note"`
	Position  palace.Vec3   `json:"position"`
	Rotation  palace.Vec3   `json:"rotation"`
	Width     float64       `json:"width"`
	Height    float64       `json:"height"`
	IsVisible *bool         `json:"isVisible"`
	Image     *imagePayload `json:"image"`
}

// imagePayload is an optional attached image for an annotation.
type imagePayload struct {
	ContentType string `json:"contentType"`
	Data        string `json:"data"` // base64
}

// resolvePayload turns an uploaded payload into either an inline data
// URL or a stored blob key, honoring the inline size threshold.
func resolvePayload(deps Deps, p *imagePayload) (dataURL, blobKey string, err error) {
	if p == nil || p.Data == "" {
		return "", "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return "", "", err
	}
	if len(raw) <= palace.InlineLimit {
		return palace.EncodeDataURL(p.ContentType, raw), "", nil
	}
	key, err := deps.Blobs.Put(raw)
	if err != nil {
		return "", "", err
	}
	return "", key, nil
}

func handleAddAnnotation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBodySize)
		var req annotationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		dataURL, blobKey, err := resolvePayload(deps, req.Image)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image payload: %v", err)
			return
		}

		visible := true
		if req.IsVisible != nil {
			visible = *req.IsVisible
		}
		ann := palace.Annotation{
			Text:         req.Text,
			Note:         req.Note,
			Position:     req.Position,
			Rotation:     req.Rotation,
			Width:        req.Width,
			Height:       req.Height,
			IsVisible:    visible,
			ImageDataURL: dataURL,
			ImageBlobKey: blobKey,
		}
		stored, err := deps.Store.AddAnnotation(chi.URLParam(r, "id"), chi.URLParam(r, "imageID"), ann)
		if err != nil {
			if blobKey != "" {
				if derr := deps.Blobs.Delete(blobKey); derr != nil {
					deps.Logger.Warn("cleaning up blob after failed annotation add", "key", blobKey, "error", derr)
				}
			}
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
}

type updateAnnotationRequest struct {
	Text      *string       `json:"text"`
	Note      *string       `json:"note"`
	Position  *palace.Vec3  `json:"position"`
	Rotation  *palace.Vec3  `json:"rotation"`
	Width     *float64      `json:"width"`
	Height    *float64      `json:"height"`
	IsVisible *bool         `json:"isVisible"`
	Selected  *bool         `json:"selected"`
	Image     *imagePayload `json:"image"` // replaces the attached image; empty data detaches it
}

func handleUpdateAnnotation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBodySize)
		var req updateAnnotationRequest
		if !decodeBody(w, r, &req) {
			return
		}

		upd := store.AnnotationUpdate{
			Text:      req.Text,
			Note:      req.Note,
			Position:  req.Position,
			Rotation:  req.Rotation,
			Width:     req.Width,
			Height:    req.Height,
			IsVisible: req.IsVisible,
			Selected:  req.Selected,
		}
		var newBlobKey string
		if req.Image != nil {
			dataURL, blobKey, err := resolvePayload(deps, req.Image)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "image payload: %v", err)
				return
			}
			upd.ImageDataURL = &dataURL
			upd.ImageBlobKey = &blobKey
			newBlobKey = blobKey
		}

		stored, err := deps.Store.UpdateAnnotation(
			chi.URLParam(r, "id"), chi.URLParam(r, "imageID"), chi.URLParam(r, "annotationID"), upd)
		if err != nil {
			if newBlobKey != "" {
				if derr := deps.Blobs.Delete(newBlobKey); derr != nil {
					deps.Logger.Warn("cleaning up blob after failed annotation update", "key", newBlobKey, "error", derr)
				}
			}
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stored)
	}
}

func handleDeleteAnnotation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteAnnotation(
			chi.URLParam(r, "id"), chi.URLParam(r, "imageID"), chi.URLParam(r, "annotationID"))
		if err != nil {
			domainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
