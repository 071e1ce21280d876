// Package link implements the account-linking handshake. A platform
// bot requests a short-lived single-use token for an unlinked user;
// the user opens the returned URL, signs in on the web frontend, and
// the frontend consumes the token to create the durable platform link.
package link

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// tokenTTL is how long a link token stays redeemable.
const tokenTTL = 10 * time.Minute

// ErrTokenInvalid is returned for unknown, expired or already-consumed
// tokens.
var ErrTokenInvalid = errors.New("invalid or expired link token")

// Pending describes the platform identity a token was issued for.
type Pending struct {
	Platform       platform.Platform `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	Username       string            `json:"username,omitempty"`
	DisplayName    string            `json:"display_name,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Service issues and redeems link tokens.
type Service struct {
	cache       cache.Cache
	links       store.LinkStore
	frontendURL string
	logger      *slog.Logger
}

// NewService creates a link service. frontendURL is the web frontend
// base the auth URL points at.
func NewService(c cache.Cache, links store.LinkStore, frontendURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:       c,
		links:       links,
		frontendURL: frontendURL,
		logger:      logger.With("component", "link"),
	}
}

func tokenKey(tok string) string { return "link_token:" + tok }

// CreateToken issues a fresh token for the given platform identity and
// returns the token plus the auth URL the user should open.
func (s *Service) CreateToken(ctx context.Context, pending Pending) (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate link token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	pending.CreatedAt = time.Now()
	raw, err := json.Marshal(pending)
	if err != nil {
		return "", "", fmt.Errorf("encode pending link: %w", err)
	}
	if err := s.cache.Set(ctx, tokenKey(tok), string(raw), tokenTTL); err != nil {
		return "", "", fmt.Errorf("store link token: %w", err)
	}

	q := url.Values{}
	q.Set("platform", pending.Platform.String())
	q.Set("token", tok)
	authURL := s.frontendURL + "/auth/link-platform?" + q.Encode()

	s.logger.Info("link token issued",
		"platform", pending.Platform.String(),
		"platform_user_id", pending.PlatformUserID)
	return tok, authURL, nil
}

// TokenInfo returns the pending identity behind a token without
// consuming it. The frontend shows this before the user confirms.
func (s *Service) TokenInfo(ctx context.Context, tok string) (*Pending, error) {
	raw, err := s.cache.Get(ctx, tokenKey(tok))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load link token: %w", err)
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode pending link: %w", err)
	}
	return &p, nil
}

// Consume redeems a token for accountID and creates the platform link.
// The token is burned before linking, so a second redeem attempt fails
// even when the link itself errors. Conflict errors from the store
// pass through (ErrPlatformTaken, ErrAccountLinked).
func (s *Service) Consume(ctx context.Context, tok, accountID string) (*store.PlatformLink, error) {
	p, err := s.TokenInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, tokenKey(tok)); err != nil {
		return nil, fmt.Errorf("burn link token: %w", err)
	}

	l := &store.PlatformLink{
		Platform:       p.Platform,
		PlatformUserID: p.PlatformUserID,
		AccountID:      accountID,
		Username:       p.Username,
		DisplayName:    p.DisplayName,
	}
	if err := s.links.Link(ctx, l); err != nil {
		return nil, err
	}

	s.logger.Info("platform linked",
		"platform", p.Platform.String(),
		"platform_user_id", p.PlatformUserID,
		"account_id", accountID)
	return l, nil
}
