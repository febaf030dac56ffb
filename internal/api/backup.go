package api

import (
	"io"
	"net/http"

	"github.com/kalambet/memorium/internal/backup"
	"github.com/kalambet/memorium/internal/palace"
)

// maxImportBodySize bounds one import request. Bundles carry full blob
// payloads, so this is deliberately generous.
const maxImportBodySize = 512 << 20

type exportRequest struct {
	// Encrypted wraps the bundle in a password-protected envelope.
	Encrypted bool   `json:"encrypted"`
	Password  string `json:"password"`
	// PalaceID limits the export to one palace; empty exports all.
	PalaceID string `json:"palaceId"`
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Encrypted && req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "password is required for an encrypted export")
			return
		}

		palaces := deps.Store.Palaces()
		if req.PalaceID != "" {
			p, err := deps.Store.Palace(req.PalaceID)
			if err != nil {
				domainError(w, err)
				return
			}
			palaces = []palace.Palace{p}
		}

		exporter := backup.NewExporter(deps.Blobs)
		bundle, err := exporter.Export(r.Context(), palaces)
		if err != nil {
			domainError(w, err)
			return
		}

		var out []byte
		if req.Encrypted {
			out, err = backup.EncodeEncrypted(bundle, req.Password)
		} else {
			out, err = backup.Encode(bundle)
		}
		if err != nil {
			domainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	}
}

// handleImport accepts the raw bundle bytes as the request body. The
// password for encrypted bundles travels in a header so the body stays
// exactly the exported artifact.
func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading bundle: %v", err)
			return
		}

		bundle, err := backup.Decode(raw, r.Header.Get("X-Backup-Password"))
		if err != nil {
			domainError(w, err)
			return
		}

		importer := backup.NewImporter(deps.Blobs)
		palaces, err := importer.Import(r.Context(), bundle)
		if err != nil {
			domainError(w, err)
			return
		}
		if err := deps.Store.ImportPalaces(palaces); err != nil {
			domainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"imported": len(palaces)})
	}
}
