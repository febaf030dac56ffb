package api

import (
	"net/http"
)

type generateRequest struct {
	PalaceID string `json:"palaceId"`
	Notes    string `json:"notes"`
	Count    int    `json:"count"`
}

// handleGenerate returns annotation suggestions for a palace; it never
// places them. The client reviews the plan and creates annotations
// through the normal routes.
func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Generator == nil {
			httpError(w, http.StatusServiceUnavailable, "engine_unavailable", "generation is not configured")
			return
		}
		var req generateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PalaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "palaceId is required")
			return
		}
		if req.Notes == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "notes is required")
			return
		}

		p, err := deps.Store.Palace(req.PalaceID)
		if err != nil {
			domainError(w, err)
			return
		}
		if len(p.Images) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "palace has no images to place annotations on")
			return
		}

		suggestions, err := deps.Generator.Generate(r.Context(), req.Notes, req.Count, len(p.Images))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
	}
}
