package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/glia-ai/glia/pkg/glia/store"
	"github.com/glia-ai/glia/pkg/glia/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveExchange(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if err := st.CreateConversation(ctx, &store.Conversation{ID: "conv-1", AccountID: "acct-1"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	p := NewPersister(st, nil)
	p.SaveExchange(ctx, "conv-1", "hi there", "hello!")

	msgs, err := st.Messages(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != store.MessageTypeUser || msgs[0].Response != "hi there" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Type != store.MessageTypeBot || msgs[1].Response != "hello!" {
		t.Errorf("bot message = %+v", msgs[1])
	}
}

// failingStore errors on every append.
type failingStore struct {
	store.ConversationStore
}

func (failingStore) AppendMessages(context.Context, string, ...*store.Message) error {
	return errors.New("disk full")
}

func TestSaveExchangeSwallowsErrors(t *testing.T) {
	p := NewPersister(failingStore{}, nil)
	// Must not panic or propagate.
	p.SaveExchange(context.Background(), "conv-1", "u", "b")
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if err := st.CreateConversation(ctx, &store.Conversation{ID: "conv-1", AccountID: "acct-1"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := st.AppendMessages(ctx, "conv-1",
		&store.Message{Type: store.MessageTypeUser, Response: "question"},
		&store.Message{Type: store.MessageTypeBot, Response: "answer"},
		&store.Message{Type: store.MessageTypeUser, Response: "follow-up"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	t.Run("maps types to roles in order", func(t *testing.T) {
		turns, err := History(ctx, st, "conv-1", 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		want := []struct{ role, content string }{
			{"user", "question"},
			{"assistant", "answer"},
			{"user", "follow-up"},
		}
		if len(turns) != len(want) {
			t.Fatalf("got %d turns, want %d", len(turns), len(want))
		}
		for i, w := range want {
			if turns[i].Role != w.role || turns[i].Content != w.content {
				t.Errorf("turn %d = %+v, want %+v", i, turns[i], w)
			}
		}
	})

	t.Run("limit keeps the most recent turns", func(t *testing.T) {
		turns, err := History(ctx, st, "conv-1", 1)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(turns) != 1 || turns[0].Content != "follow-up" {
			t.Errorf("turns = %+v", turns)
		}
	})

	t.Run("empty conversation yields no turns", func(t *testing.T) {
		st.CreateConversation(ctx, &store.Conversation{ID: "conv-2", AccountID: "acct-1"})
		turns, err := History(ctx, st, "conv-2", 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("turns = %+v, want none", turns)
		}
	})
}
