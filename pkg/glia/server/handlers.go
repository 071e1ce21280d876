package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
)

const version = "1.0.0"

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	_ = enc.Encode(errorResponse{Error: struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{Message: msg, Code: code}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// decodeJSON reads a JSON request body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, "invalid request body", 400)
		return false
	}
	return true
}

// parsePlatform validates the platform field of a request.
func (s *Server) parsePlatform(w http.ResponseWriter, raw string) (platform.Platform, bool) {
	p, err := platform.Parse(raw)
	if err != nil {
		s.writeError(w, err.Error(), 400)
		return "", false
	}
	return p, true
}

// handleHealth implements GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", 405)
		return
	}
	uptime := time.Since(s.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	s.writeJSON(w, 200, map[string]any{
		"status":       "ok",
		"version":      version,
		"uptime":       uptime,
		"active_tasks": s.sup.Active(),
	})
}

// platformPath splits "/{platform}/{platform_user_id}" request paths.
func platformPath(r *http.Request, prefix string) (string, string, bool) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// handleAuthStatus implements GET /bot/auth-status/{platform}/{platform_user_id}
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", 405)
		return
	}
	rawPlatform, userID, ok := platformPath(r, "/bot/auth-status/")
	if !ok {
		s.writeError(w, "platform and platform_user_id required", 400)
		return
	}
	p, ok := s.parsePlatform(w, rawPlatform)
	if !ok {
		return
	}

	id := s.resolve(r, p, userID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}

	resp := map[string]any{
		"platform":         p.String(),
		"platform_user_id": userID,
		"linked":           id.Linked(),
	}
	if id.Linked() {
		if acct, err := s.store.GetAccount(r.Context(), id.AccountID); err == nil {
			resp["display_name"] = acct.DisplayName
		}
	}
	s.writeJSON(w, 200, resp)
}

// handleSettings implements GET /bot/settings/{platform}/{platform_user_id}
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", 405)
		return
	}
	rawPlatform, userID, ok := platformPath(r, "/bot/settings/")
	if !ok {
		s.writeError(w, "platform and platform_user_id required", 400)
		return
	}
	p, ok := s.parsePlatform(w, rawPlatform)
	if !ok {
		return
	}

	id := s.resolve(r, p, userID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}
	if !id.Linked() {
		s.writeError(w, "account not linked", 403)
		return
	}

	acct, err := s.store.GetAccount(r.Context(), id.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "account not found", 404)
			return
		}
		s.logger.Error("account lookup failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	links, err := s.store.LinksForAccount(r.Context(), id.AccountID)
	if err != nil {
		s.logger.Error("links lookup failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	platformLinks := make(map[string]any, len(links))
	for _, l := range links {
		platformLinks[l.Platform.String()] = map[string]any{
			"id":           l.PlatformUserID,
			"username":     l.Username,
			"display_name": l.DisplayName,
		}
	}

	s.writeJSON(w, 200, map[string]any{
		"account_id":     acct.ID,
		"display_name":   acct.DisplayName,
		"email":          acct.Email,
		"timezone":       acct.Timezone,
		"platform_links": platformLinks,
	})
}
