package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/memorium/internal/recall"
)

type recordSessionRequest struct {
	PalaceID   string                    `json:"palaceId"`
	Mode       string                    `json:"mode"`
	StartTime  time.Time                 `json:"startTime"`
	EndTime    *time.Time                `json:"endTime"`
	DurationMS int64                     `json:"durationMs"`
	Results    []recall.AnnotationResult `json:"results"`
}

func handleRecordSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PalaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "palaceId is required")
			return
		}
		p, err := deps.Store.Palace(req.PalaceID)
		if err != nil {
			domainError(w, err)
			return
		}
		session, err := deps.Recall.Record(p.ID, p.Name, recall.Session{
			Mode:       req.Mode,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			DurationMS: req.DurationMS,
			Results:    req.Results,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Recall.Sessions(r.URL.Query().Get("palaceId"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleRecallStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Recall.StatsFor(chi.URLParam(r, "palaceID"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
