package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/identity"
	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
	"github.com/glia-ai/glia/pkg/glia/token"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testAPIKey = "shared-bot-key"
)

// fakeLinks is an in-memory LinkStore that counts lookups.
type fakeLinks struct {
	links   map[string]*store.PlatformLink
	lookups int
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: make(map[string]*store.PlatformLink)}
}

func linkKey(p platform.Platform, userID string) string {
	return string(p) + ":" + userID
}

func (f *fakeLinks) Link(_ context.Context, l *store.PlatformLink) error {
	f.links[linkKey(l.Platform, l.PlatformUserID)] = l
	return nil
}

func (f *fakeLinks) Unlink(_ context.Context, p platform.Platform, userID string) error {
	delete(f.links, linkKey(p, userID))
	return nil
}

func (f *fakeLinks) GetLink(_ context.Context, p platform.Platform, userID string) (*store.PlatformLink, error) {
	f.lookups++
	l, ok := f.links[linkKey(p, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeLinks) LinksForAccount(_ context.Context, accountID string) ([]*store.PlatformLink, error) {
	var out []*store.PlatformLink
	for _, l := range f.links {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out, nil
}

func newTestResolver(t *testing.T, links *fakeLinks) (*Resolver, *token.Issuer) {
	t.Helper()
	iss, err := token.NewIssuer(testSecret, token.DefaultTTL)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return NewResolver(links, cache.NewMemory(), iss, testAPIKey, nil), iss
}

func TestResolveAPIKey(t *testing.T) {
	ctx := context.Background()
	links := newFakeLinks()
	r, _ := newTestResolver(t, links)

	t.Run("unlinked user gets api key trust", func(t *testing.T) {
		id := r.Resolve(ctx, "", testAPIKey, platform.Discord, "user-1")
		if id.Trust != identity.TrustAPIKey {
			t.Errorf("trust = %v, want TrustAPIKey", id.Trust)
		}
		if id.AccountID != "" {
			t.Errorf("account id = %q, want empty", id.AccountID)
		}
	})

	t.Run("linked user gets user trust", func(t *testing.T) {
		links.Link(ctx, &store.PlatformLink{
			Platform: platform.Discord, PlatformUserID: "user-2", AccountID: "acct-2",
		})
		id := r.Resolve(ctx, "", testAPIKey, platform.Discord, "user-2")
		if id.Trust != identity.TrustUser || id.AccountID != "acct-2" {
			t.Errorf("identity = %+v, want linked acct-2", id)
		}
	})

	t.Run("wrong api key resolves to none", func(t *testing.T) {
		id := r.Resolve(ctx, "", "wrong-key", platform.Discord, "user-2")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone", id.Trust)
		}
	})

	t.Run("no credentials resolves to none", func(t *testing.T) {
		id := r.Resolve(ctx, "", "", platform.Discord, "user-2")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone", id.Trust)
		}
	})
}

func TestResolveBearer(t *testing.T) {
	ctx := context.Background()
	links := newFakeLinks()
	r, iss := newTestResolver(t, links)

	links.Link(ctx, &store.PlatformLink{
		Platform: platform.Telegram, PlatformUserID: "tg-1", AccountID: "acct-1",
	})
	bearer, err := iss.Issue("acct-1", platform.Telegram, "tg-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	t.Run("valid token resolves without api key", func(t *testing.T) {
		id := r.Resolve(ctx, bearer, "", platform.Telegram, "tg-1")
		if id.Trust != identity.TrustUser || id.AccountID != "acct-1" {
			t.Errorf("identity = %+v, want linked acct-1", id)
		}
	})

	t.Run("token for another user is rejected", func(t *testing.T) {
		id := r.Resolve(ctx, bearer, "", platform.Telegram, "tg-other")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone", id.Trust)
		}
	})

	t.Run("token for another platform is rejected", func(t *testing.T) {
		id := r.Resolve(ctx, bearer, "", platform.Discord, "tg-1")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone", id.Trust)
		}
	})

	t.Run("invalid token falls back to api key", func(t *testing.T) {
		id := r.Resolve(ctx, "garbage", testAPIKey, platform.Telegram, "tg-1")
		if id.Trust != identity.TrustUser || id.AccountID != "acct-1" {
			t.Errorf("identity = %+v, want api-key fallback to acct-1", id)
		}
	})

	t.Run("unlink invalidates a still-valid token", func(t *testing.T) {
		links.Unlink(ctx, platform.Telegram, "tg-1")
		r.Invalidate(ctx, platform.Telegram, "tg-1")

		id := r.Resolve(ctx, bearer, "", platform.Telegram, "tg-1")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone after unlink", id.Trust)
		}
	})

	t.Run("relink to another account rejects old token subject", func(t *testing.T) {
		links.Link(ctx, &store.PlatformLink{
			Platform: platform.Telegram, PlatformUserID: "tg-1", AccountID: "acct-9",
		})
		r.Invalidate(ctx, platform.Telegram, "tg-1")

		id := r.Resolve(ctx, bearer, "", platform.Telegram, "tg-1")
		if id.Trust != identity.TrustNone {
			t.Errorf("trust = %v, want TrustNone for stale subject", id.Trust)
		}
	})
}

func TestLookupLinkCaching(t *testing.T) {
	ctx := context.Background()
	links := newFakeLinks()
	r, _ := newTestResolver(t, links)

	links.Link(ctx, &store.PlatformLink{
		Platform: platform.Discord, PlatformUserID: "user-1", AccountID: "acct-1",
	})

	t.Run("positive result is cached", func(t *testing.T) {
		for range 3 {
			id := r.Resolve(ctx, "", testAPIKey, platform.Discord, "user-1")
			if id.AccountID != "acct-1" {
				t.Fatalf("identity = %+v", id)
			}
		}
		if links.lookups != 1 {
			t.Errorf("store lookups = %d, want 1", links.lookups)
		}
	})

	t.Run("negative result is cached", func(t *testing.T) {
		before := links.lookups
		for range 3 {
			id := r.Resolve(ctx, "", testAPIKey, platform.Discord, "nobody")
			if id.Trust != identity.TrustAPIKey {
				t.Fatalf("identity = %+v", id)
			}
		}
		if got := links.lookups - before; got != 1 {
			t.Errorf("store lookups = %d, want 1", got)
		}
	})

	t.Run("invalidate forces a store round-trip", func(t *testing.T) {
		before := links.lookups
		r.Invalidate(ctx, platform.Discord, "user-1")
		r.Resolve(ctx, "", testAPIKey, platform.Discord, "user-1")
		if got := links.lookups - before; got != 1 {
			t.Errorf("store lookups after invalidate = %d, want 1", got)
		}
	})
}

func TestAPIKeyMatchesEmptyConfig(t *testing.T) {
	iss, _ := token.NewIssuer(strings.Repeat("a", token.MinSecretLen), time.Minute)
	r := NewResolver(newFakeLinks(), cache.NewMemory(), iss, "", nil)

	// With no configured key, nothing matches, not even empty.
	id := r.Resolve(context.Background(), "", "", platform.Discord, "u")
	if id.Trust != identity.TrustNone {
		t.Errorf("trust = %v, want TrustNone", id.Trust)
	}
}
