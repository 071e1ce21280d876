package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/glia-ai/glia/pkg/glia/link"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// handleCreateLinkToken implements POST /bot/create-link-token. A
// platform bot requests this for an unlinked user; the returned auth
// URL is what the bot sends the user.
func (s *Server) handleCreateLinkToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req struct {
		Platform       string `json:"platform"`
		PlatformUserID string `json:"platform_user_id"`
		Username       string `json:"username,omitempty"`
		DisplayName    string `json:"display_name,omitempty"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, ok := s.parsePlatform(w, req.Platform)
	if !ok {
		return
	}
	if req.PlatformUserID == "" {
		s.writeError(w, "platform_user_id required", 400)
		return
	}

	id := s.resolve(r, p, req.PlatformUserID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}
	if id.Linked() {
		s.writeError(w, "already linked", 409)
		return
	}

	tok, authURL, err := s.links.CreateToken(r.Context(), link.Pending{
		Platform:       p,
		PlatformUserID: req.PlatformUserID,
		Username:       req.Username,
		DisplayName:    req.DisplayName,
	})
	if err != nil {
		s.logger.Error("link token creation failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	s.writeJSON(w, 200, map[string]any{
		"token":      tok,
		"auth_url":   authURL,
		"expires_in": 600,
	})
}

// handleLinkTokenInfo implements GET /bot/link-token-info/{token}.
// The web frontend shows this before the user confirms the link, so
// possession of the token is the credential here.
func (s *Server) handleLinkTokenInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", 405)
		return
	}
	tok := strings.TrimPrefix(r.URL.Path, "/bot/link-token-info/")
	if tok == "" {
		s.writeError(w, "token required", 400)
		return
	}

	pending, err := s.links.TokenInfo(r.Context(), tok)
	if err != nil {
		if errors.Is(err, link.ErrTokenInvalid) {
			s.writeError(w, "invalid or expired link token", 404)
			return
		}
		s.logger.Error("link token lookup failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	s.writeJSON(w, 200, map[string]any{
		"platform":         pending.Platform.String(),
		"platform_user_id": pending.PlatformUserID,
		"username":         pending.Username,
		"display_name":     pending.DisplayName,
	})
}

// handleLink implements POST /bot/link: consumes a link token for an
// account, creating the account on first link.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req struct {
		Token       string `json:"token"`
		AccountID   string `json:"account_id,omitempty"`
		Email       string `json:"email,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		s.writeError(w, "token required", 400)
		return
	}

	accountID := req.AccountID
	if accountID == "" {
		// First contact: create a fresh account for this user.
		acct := &store.Account{
			ID:          uuid.NewString(),
			Email:       req.Email,
			DisplayName: req.DisplayName,
		}
		if err := s.store.CreateAccount(r.Context(), acct); err != nil {
			s.logger.Error("account creation failed", "error", err)
			s.writeError(w, "internal error", 500)
			return
		}
		accountID = acct.ID
	} else if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "account not found", 404)
			return
		}
		s.logger.Error("account lookup failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	l, err := s.links.Consume(r.Context(), req.Token, accountID)
	if err != nil {
		switch {
		case errors.Is(err, link.ErrTokenInvalid):
			s.writeError(w, "invalid or expired link token", 404)
		case errors.Is(err, store.ErrPlatformTaken):
			s.writeError(w, "platform identity already linked to another account", 409)
		case errors.Is(err, store.ErrAccountLinked):
			s.writeError(w, "account already linked on this platform", 409)
		default:
			s.logger.Error("link failed", "error", err)
			s.writeError(w, "internal error", 500)
		}
		return
	}

	// Drop any cached unlinked identity immediately.
	s.resolver.Invalidate(r.Context(), l.Platform, l.PlatformUserID)

	s.writeJSON(w, 200, map[string]any{
		"status":           "linked",
		"platform":         l.Platform.String(),
		"platform_user_id": l.PlatformUserID,
		"account_id":       l.AccountID,
	})
}

// handleUnlink implements POST /bot/unlink.
func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req struct {
		Platform       string `json:"platform"`
		PlatformUserID string `json:"platform_user_id"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, ok := s.parsePlatform(w, req.Platform)
	if !ok {
		return
	}
	if req.PlatformUserID == "" {
		s.writeError(w, "platform_user_id required", 400)
		return
	}

	id := s.resolve(r, p, req.PlatformUserID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}
	if !id.Linked() {
		s.writeError(w, "not linked", 404)
		return
	}

	if err := s.store.Unlink(r.Context(), p, req.PlatformUserID); err != nil {
		s.logger.Error("unlink failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}
	s.resolver.Invalidate(r.Context(), p, req.PlatformUserID)

	s.writeJSON(w, 200, map[string]string{"status": "unlinked"})
}
