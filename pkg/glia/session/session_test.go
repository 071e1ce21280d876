package session

import (
	"context"
	"strings"
	"testing"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store/sqlite"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, nil)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name      string
		channelID string
		want      string
	}{
		{"channel chat", "chan-9", "discord:user-1:chan-9"},
		{"direct message", "", "discord:user-1:dm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(platform.Discord, "user-1", tt.channelID)
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveOrCreate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("creates then reuses the same session", func(t *testing.T) {
		first, err := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "user-1", "")
		if err != nil {
			t.Fatalf("ResolveOrCreate failed: %v", err)
		}
		if first.ConversationID == "" {
			t.Fatal("no conversation created")
		}

		second, err := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "user-1", "")
		if err != nil {
			t.Fatalf("second ResolveOrCreate failed: %v", err)
		}
		if second.ConversationID != first.ConversationID {
			t.Errorf("conversation changed: %q -> %q", first.ConversationID, second.ConversationID)
		}
	})

	t.Run("channels are isolated from dm", func(t *testing.T) {
		dm, _ := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "user-1", "")
		ch, err := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "user-1", "chan-1")
		if err != nil {
			t.Fatalf("ResolveOrCreate failed: %v", err)
		}
		if ch.ConversationID == dm.ConversationID {
			t.Error("channel session shares the dm conversation")
		}
	})

	t.Run("account change replaces the session", func(t *testing.T) {
		old, _ := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "user-1", "")
		repl, err := m.ResolveOrCreate(ctx, "acct-2", platform.Discord, "user-1", "")
		if err != nil {
			t.Fatalf("ResolveOrCreate failed: %v", err)
		}
		if repl.ConversationID == old.ConversationID {
			t.Error("session reused across accounts")
		}
		if repl.AccountID != "acct-2" {
			t.Errorf("account id = %q, want acct-2", repl.AccountID)
		}
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	before, err := m.ResolveOrCreate(ctx, "acct-1", platform.Telegram, "tg-1", "")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	after, err := m.Reset(ctx, "acct-1", platform.Telegram, "tg-1", "")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if after.ConversationID == before.ConversationID {
		t.Error("reset kept the old conversation")
	}

	// The reset session is now the stored one.
	again, _ := m.ResolveOrCreate(ctx, "acct-1", platform.Telegram, "tg-1", "")
	if again.ConversationID != after.ConversationID {
		t.Error("reset session not persisted")
	}
}

func TestCreateAnonymous(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	s1, err := m.CreateAnonymous(ctx, platform.Discord, "stranger")
	if err != nil {
		t.Fatalf("CreateAnonymous failed: %v", err)
	}
	if !strings.HasPrefix(s1.AccountID, "anon:discord:") {
		t.Errorf("account id = %q, want anon prefix", s1.AccountID)
	}

	// Anonymous sessions are never stored: each call is a clean slate.
	s2, err := m.CreateAnonymous(ctx, platform.Discord, "stranger")
	if err != nil {
		t.Fatalf("second CreateAnonymous failed: %v", err)
	}
	if s2.ConversationID == s1.ConversationID {
		t.Error("anonymous sessions share a conversation")
	}

	// And they do not shadow a real session for the same user.
	real, err := m.ResolveOrCreate(ctx, "acct-1", platform.Discord, "stranger", "")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if real.ConversationID == s2.ConversationID {
		t.Error("real session reused the anonymous conversation")
	}
}
