// Package auth resolves bot request credentials into an identity.
// Resolution is bearer-first: a valid session token proves the link
// without a store round-trip, the shared API key is the fallback. The
// durable platform link stays authoritative either way, so a cached or
// token-claimed identity is always re-checked against it.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/identity"
	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
	"github.com/glia-ai/glia/pkg/glia/token"
)

// identityTTL bounds how long an unlink can go unnoticed by cached
// resolutions.
const identityTTL = 10 * time.Minute

// Resolver authenticates bot requests.
type Resolver struct {
	links  store.LinkStore
	cache  cache.Cache
	issuer *token.Issuer
	apiKey []byte
	logger *slog.Logger
}

// NewResolver creates a resolver. apiKey is the shared bot API key.
func NewResolver(links store.LinkStore, c cache.Cache, issuer *token.Issuer, apiKey string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		links:  links,
		cache:  c,
		issuer: issuer,
		apiKey: []byte(apiKey),
		logger: logger.With("component", "auth"),
	}
}

// Resolve authenticates one request. bearer is the session token (may
// be empty), apiKey the presented API key (may be empty). p and
// platformUserID identify the platform user the request claims to act
// for. The returned identity's trust level is TrustNone when neither
// credential holds.
func (r *Resolver) Resolve(ctx context.Context, bearer, apiKey string, p platform.Platform, platformUserID string) identity.Identity {
	unresolved := identity.Identity{Trust: identity.TrustNone, Platform: p, PlatformUserID: platformUserID}

	if bearer != "" {
		if id, ok := r.resolveBearer(ctx, bearer, p, platformUserID); ok {
			return id
		}
		// Invalid or stale token: fall through to the API key.
	}

	if apiKey != "" && r.apiKeyMatches(apiKey) {
		if accountID, ok := r.lookupLink(ctx, p, platformUserID); ok {
			return identity.Identity{
				Trust:          identity.TrustUser,
				AccountID:      accountID,
				Platform:       p,
				PlatformUserID: platformUserID,
			}
		}
		return identity.Identity{Trust: identity.TrustAPIKey, Platform: p, PlatformUserID: platformUserID}
	}

	return unresolved
}

// resolveBearer validates a session token against the request identity
// and the durable link.
func (r *Resolver) resolveBearer(ctx context.Context, bearer string, p platform.Platform, platformUserID string) (identity.Identity, bool) {
	claims, err := r.issuer.Verify(bearer)
	if err != nil {
		r.logger.Debug("session token rejected", "error", err)
		return identity.Identity{}, false
	}
	if claims.Platform != p.String() || claims.PlatformUserID != platformUserID {
		r.logger.Warn("session token identity mismatch",
			"token_platform", claims.Platform,
			"request_platform", p.String())
		return identity.Identity{}, false
	}

	accountID, ok := r.lookupLink(ctx, p, platformUserID)
	if !ok {
		// Link removed since the token was issued.
		return identity.Identity{}, false
	}
	if accountID != claims.Subject {
		r.logger.Warn("session token subject no longer matches link",
			"platform", p.String(), "platform_user_id", platformUserID)
		return identity.Identity{}, false
	}

	return identity.Identity{
		Trust:          identity.TrustUser,
		AccountID:      accountID,
		Platform:       p,
		PlatformUserID: platformUserID,
	}, true
}

// apiKeyMatches compares the presented key against the configured one
// in constant time. Hashing first hides the key length.
func (r *Resolver) apiKeyMatches(presented string) bool {
	if len(r.apiKey) == 0 {
		return false
	}
	want := sha256.Sum256(r.apiKey)
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

type cachedIdentity struct {
	AccountID string `json:"account_id"`
	Linked    bool   `json:"linked"`
}

func identityCacheKey(p platform.Platform, platformUserID string) string {
	return fmt.Sprintf("bot_user:%s:%s", p, platformUserID)
}

// lookupLink resolves the account linked to a platform identity,
// consulting the cache first. Negative results are cached too so
// unlinked users do not hammer the store.
func (r *Resolver) lookupLink(ctx context.Context, p platform.Platform, platformUserID string) (string, bool) {
	key := identityCacheKey(p, platformUserID)

	if raw, err := r.cache.Get(ctx, key); err == nil {
		var ci cachedIdentity
		if err := json.Unmarshal([]byte(raw), &ci); err == nil {
			return ci.AccountID, ci.Linked
		}
		// Unreadable entry: drop it and fall through to the store.
		_ = r.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("identity cache unavailable", "error", err)
	}

	link, err := r.links.GetLink(ctx, p, platformUserID)
	ci := cachedIdentity{}
	switch {
	case err == nil:
		ci = cachedIdentity{AccountID: link.AccountID, Linked: true}
	case errors.Is(err, store.ErrNotFound):
		// cache the miss
	default:
		r.logger.Error("link lookup failed", "error", err)
		return "", false
	}

	if raw, err := json.Marshal(ci); err == nil {
		if err := r.cache.Set(ctx, key, string(raw), identityTTL); err != nil {
			r.logger.Warn("identity cache write failed", "error", err)
		}
	}
	return ci.AccountID, ci.Linked
}

// Invalidate drops the cached identity for a platform user. Called
// after link and unlink so trust changes take effect immediately.
func (r *Resolver) Invalidate(ctx context.Context, p platform.Platform, platformUserID string) {
	if err := r.cache.Delete(ctx, identityCacheKey(p, platformUserID)); err != nil {
		r.logger.Warn("identity cache invalidation failed", "error", err)
	}
}
