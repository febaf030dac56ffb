package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/memorium/internal/vault"
)

type passwordRequest struct {
	Password string `json:"password"`
}

func handleSecurityStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		writeJSON(w, http.StatusOK, map[string]bool{
			"enabled":   enabled,
			"encrypted": encrypted,
		})
	}
}

func handleSecurityEnable(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "password is required")
			return
		}
		if err := deps.Store.EnableEncryption(req.Password); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
	}
}

func handleSecurityDisable(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Store.DisableEncryption(req.Password); err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
	}
}

func handleSecurityVerify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ok, err := deps.Records.VerifyPassword(req.Password)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
	}
}

func handleSecurityUnlock(deps Deps, guard *unlockGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guard.lockedOut() {
			httpError(w, http.StatusTooManyRequests, "too_many_attempts",
				"too many failed unlock attempts; restart the server to try again")
			return
		}
		var req passwordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Store.Unlock(req.Password); err != nil {
			if errors.Is(err, vault.ErrAuthenticationFailed) {
				remaining := guard.fail()
				httpError(w, http.StatusUnauthorized, "authentication_error",
					"wrong password; %d attempts remaining", remaining)
				return
			}
			domainError(w, err)
			return
		}
		guard.reset()
		writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
	}
}

func handleSecurityLock(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Store.Lock()
		writeJSON(w, http.StatusOK, map[string]bool{"locked": true})
	}
}
