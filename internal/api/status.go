package api

import (
	"net/http"
)

// handleStatus reports a storage and security overview for the status
// command.
func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		palaces := deps.Store.Palaces()
		imageCount := 0
		annotationCount := 0
		for _, p := range palaces {
			imageCount += len(p.Images)
			for _, img := range p.Images {
				annotationCount += len(img.Annotations)
			}
		}

		metaUsed, metaQuota, err := deps.Meta.Usage()
		if err != nil {
			domainError(w, err)
			return
		}
		blobCount, blobBytes, err := deps.Blobs.Usage()
		if err != nil {
			domainError(w, err)
			return
		}
		enabled, err := deps.Records.Vault().Enabled()
		if err != nil {
			domainError(w, err)
			return
		}
		encrypted, err := deps.Records.Encrypted()
		if err != nil {
			domainError(w, err)
			return
		}

		generatorAvailable := false
		if deps.Generator != nil {
			generatorAvailable = deps.Generator.Available(r.Context())
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"palaces":     len(palaces),
			"images":      imageCount,
			"annotations": annotationCount,
			"storage": map[string]any{
				"metaBytesUsed": metaUsed,
				"metaQuota":     metaQuota,
				"blobCount":     blobCount,
				"blobBytes":     blobBytes,
			},
			"security": map[string]bool{
				"enabled":   enabled,
				"encrypted": encrypted,
			},
			"generatorAvailable": generatorAvailable,
		})
	}
}

// handleWipe erases all stored data. There is no undo; the CLI asks
// for confirmation before calling this.
func handleWipe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Wipe(r.Context()); err != nil {
			domainError(w, err)
			return
		}
		if err := deps.Recall.Clear(); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"wiped": true})
	}
}
