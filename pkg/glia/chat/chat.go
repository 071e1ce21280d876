// Package chat persists conversation exchanges and loads history for
// agent requests.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// DefaultHistoryLimit caps how many prior messages feed into one agent
// request.
const DefaultHistoryLimit = 40

// Persister appends chat exchanges to their conversation.
type Persister struct {
	store  store.ConversationStore
	logger *slog.Logger
}

// NewPersister creates a persister.
func NewPersister(s store.ConversationStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: s, logger: logger.With("component", "persister")}
}

// SaveExchange appends one (user, bot) message pair. Persistence
// failures are logged and swallowed: the reply already reached the
// user, losing history beats failing the request.
func (p *Persister) SaveExchange(ctx context.Context, conversationID, userText, botText string) {
	err := p.store.AppendMessages(ctx, conversationID,
		&store.Message{Type: store.MessageTypeUser, Response: userText},
		&store.Message{Type: store.MessageTypeBot, Response: botText},
	)
	if err != nil {
		p.logger.Error("failed to persist exchange",
			"conversation_id", conversationID,
			"error", err)
	}
}

// History loads a conversation's recent messages as agent turns.
func History(ctx context.Context, s store.ConversationStore, conversationID string, limit int) ([]agent.Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := s.Messages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]agent.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Type == store.MessageTypeBot {
			role = "assistant"
		}
		turns = append(turns, agent.Turn{Role: role, Content: m.Response})
	}
	return turns, nil
}
