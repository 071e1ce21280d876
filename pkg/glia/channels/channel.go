// Package channels defines the platform bot adapters that bridge chat
// platforms to the Glia API. Each adapter holds the shared API key via
// the bot client, forwards direct messages to the streaming chat
// endpoint and group mentions to the mention endpoint, and walks
// unlinked users through the link handshake.
package channels

import (
	"context"
	"time"
)

// Channel is one connected platform adapter.
type Channel interface {
	// Name returns the platform identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform and
	// starts handling messages until ctx is cancelled.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// HealthStatus describes a channel's liveness.
type HealthStatus struct {
	Connected     bool      `json:"connected"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	ErrorCount    int       `json:"error_count"`
}

// Commands every adapter understands in direct messages.
const (
	CommandReset = "!reset"
	CommandLink  = "!link"
)

// LinkPromptText is sent to unlinked users together with the auth URL.
const LinkPromptText = "Your account is not linked yet. Open this link to connect it:"
