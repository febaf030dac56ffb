// Package api exposes the palace store over a local HTTP API and an
// MCP stdio server. The HTTP surface is what the CLI talks to; every
// route except the health check requires the bearer token minted into
// the data directory.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/memorium/internal/backup"
	"github.com/kalambet/memorium/internal/blob"
	"github.com/kalambet/memorium/internal/generate"
	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/recall"
	"github.com/kalambet/memorium/internal/records"
	"github.com/kalambet/memorium/internal/store"
	"github.com/kalambet/memorium/internal/vault"
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store     *store.Store
	Records   *records.Store
	Blobs     *blob.Store
	Meta      *meta.KV
	Recall    *recall.Manager
	Generator generate.Generator // optional; generation routes 503 when nil
	Token     string
	Logger    *slog.Logger
}

// unlockGuard bounds consecutive failed unlock attempts.
type unlockGuard struct {
	mu       sync.Mutex
	failures int
}

const maxUnlockAttempts = 3

func (g *unlockGuard) lockedOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures >= maxUnlockAttempts
}

func (g *unlockGuard) fail() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	return maxUnlockAttempts - g.failures
}

func (g *unlockGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
}

// NewHandler builds the full HTTP router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	guard := &unlockGuard{}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Post("/wipe", handleWipe(deps))

		r.Get("/palaces", handleListPalaces(deps))
		r.Post("/palaces", handleCreatePalace(deps))
		r.Get("/palaces/{id}", handleGetPalace(deps))
		r.Patch("/palaces/{id}", handleUpdatePalace(deps))
		r.Delete("/palaces/{id}", handleDeletePalace(deps))

		r.Post("/palaces/{id}/images", handleAddImage(deps))
		r.Delete("/palaces/{id}/images/{imageID}", handleDeleteImage(deps))

		r.Post("/palaces/{id}/images/{imageID}/annotations", handleAddAnnotation(deps))
		r.Patch("/palaces/{id}/images/{imageID}/annotations/{annotationID}", handleUpdateAnnotation(deps))
		r.Delete("/palaces/{id}/images/{imageID}/annotations/{annotationID}", handleDeleteAnnotation(deps))

		r.Get("/blobs/{key}", handleGetBlob(deps))

		r.Get("/security", handleSecurityStatus(deps))
		r.Post("/security/enable", handleSecurityEnable(deps))
		r.Post("/security/disable", handleSecurityDisable(deps))
		r.Post("/security/verify", handleSecurityVerify(deps))
		r.Post("/security/unlock", handleSecurityUnlock(deps, guard))
		r.Post("/security/lock", handleSecurityLock(deps))

		r.Post("/backup/export", handleExport(deps))
		r.Post("/backup/import", handleImport(deps))

		r.Post("/recall/sessions", handleRecordSession(deps))
		r.Get("/recall/sessions", handleListSessions(deps))
		r.Get("/recall/stats/{palaceID}", handleRecallStats(deps))

		r.Post("/generate", handleGenerate(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// domainError maps store and crypto errors onto HTTP status codes with
// stable error types the CLI can branch on.
func domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, palace.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, records.ErrPasswordRequired):
		httpError(w, http.StatusUnauthorized, "password_required", "%v", err)
	case errors.Is(err, vault.ErrAuthenticationFailed):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case errors.Is(err, vault.ErrSaltMissing), errors.Is(err, records.ErrCorruptDocument):
		httpError(w, http.StatusInternalServerError, "data_corruption", "%v", err)
	case errors.Is(err, palace.ErrPayloadConflict), errors.Is(err, palace.ErrPayloadMissing):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, recall.ErrUnknownMode):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, meta.ErrQuotaExceeded):
		httpError(w, http.StatusInsufficientStorage, "quota_exceeded", "%v", err)
	case errors.Is(err, backup.ErrInvalidBundle):
		httpError(w, http.StatusBadRequest, "invalid_bundle", "%v", err)
	case errors.Is(err, backup.ErrEncryptedBundle):
		httpError(w, http.StatusBadRequest, "password_required", "%v", err)
	case errors.Is(err, generate.ErrEngineUnavailable):
		httpError(w, http.StatusServiceUnavailable, "engine_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
