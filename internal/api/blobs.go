package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/memorium/internal/blob"
)

func handleGetBlob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		data, err := deps.Blobs.Get(key)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "blob %s not found", key)
				return
			}
			domainError(w, err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
