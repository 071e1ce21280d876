package stream

import (
	"context"
	"log/slog"
)

// Event is one SSE event sent to a bot client. The first event of a
// stream carries a fresh session token; the last always has Done set.
type Event struct {
	SessionToken   string `json:"session_token,omitempty"`
	Text           string `json:"text,omitempty"`
	Error          string `json:"error,omitempty"`
	Keepalive      bool   `json:"keepalive,omitempty"`
	Done           bool   `json:"done,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// EmitFunc delivers one event to the client. A non-nil error aborts
// the relay (client gone).
type EmitFunc func(Event) error

// Relay translates internal frames into client events.
type Relay struct {
	logger *slog.Logger
}

// NewRelay creates a relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger.With("component", "relay")}
}

// Run consumes frames until the done sentinel, the channel closing, an
// error frame or context cancellation, emitting client events along
// the way. The stream always closes with a done event carrying
// conversationID, also after an error frame. The accumulated message
// text is returned for callers that persist inline.
func (r *Relay) Run(ctx context.Context, frames <-chan string, conversationID string, emit EmitFunc) (string, error) {
	var acc Accumulator
	done := Event{Done: true, ConversationID: conversationID}

	for {
		select {
		case <-ctx.Done():
			return acc.Text(), ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				// Producer vanished without a sentinel; close out cleanly.
				return acc.Text(), emit(done)
			}

			f := ParseFrame(raw)
			acc.Apply(f)

			switch f.Kind {
			case FrameText:
				if err := emit(Event{Text: f.Text}); err != nil {
					return acc.Text(), err
				}
			case FrameKeepalive:
				if err := emit(Event{Keepalive: true}); err != nil {
					return acc.Text(), err
				}
			case FrameError:
				r.logger.Warn("agent stream errored", "conversation_id", conversationID, "error", f.Err)
				if err := emit(Event{Error: f.Err}); err != nil {
					return acc.Text(), err
				}
				return acc.Text(), emit(done)
			case FrameDone:
				return acc.Text(), emit(done)
			}
		}
	}
}
