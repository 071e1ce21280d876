// Package store defines the persistence model for Glia: accounts,
// platform links, conversations, bot sessions and workflows. Interfaces
// live here; the SQLite implementation lives in store/sqlite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/glia-ai/glia/pkg/glia/platform"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPlatformTaken is returned when the (platform, platform_user_id)
	// pair is already linked to a different account.
	ErrPlatformTaken = errors.New("platform identity already linked to another account")

	// ErrAccountLinked is returned when the account already carries a
	// link for the platform with a different platform user id.
	ErrAccountLinked = errors.New("account already linked to a different identity on this platform")
)

// Account is a Glia user account. Platform links hang off it.
type Account struct {
	ID          string
	Email       string
	DisplayName string
	Timezone    string // IANA name, used for workflow schedules
	CreatedAt   time.Time
}

// PlatformLink binds one platform identity to one account.
// Invariants: a (platform, platform_user_id) pair belongs to at most
// one account, and an account holds at most one link per platform.
type PlatformLink struct {
	Platform       platform.Platform
	PlatformUserID string
	AccountID      string
	Username       string
	DisplayName    string
	LinkedAt       time.Time
}

// Conversation groups messages for one account.
type Conversation struct {
	ID        string
	AccountID string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single conversation entry. Type is "user" or "bot";
// Response holds the text either way.
type Message struct {
	Type     string
	Response string
	Date     time.Time
}

const (
	MessageTypeUser = "user"
	MessageTypeBot  = "bot"
)

// BotSession maps a platform context to the conversation it continues.
// SessionKey is "platform:platform_user_id:channel_id" for channel
// chats and "platform:platform_user_id:dm" for direct messages.
type BotSession struct {
	SessionKey     string
	AccountID      string
	Platform       platform.Platform
	PlatformUserID string
	ChannelID      string
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Workflow is a scheduled silent agent run owned by an account.
type Workflow struct {
	ID             string
	AccountID      string
	Name           string
	Schedule       string // cron expression, evaluated in the account timezone
	Prompt         string
	ConversationID string
	Enabled        bool
	CreatedAt      time.Time
	LastRunAt      time.Time
	LastError      string
	RunCount       int
}

// AccountStore manages accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
}

// LinkStore manages platform links. Link enforces both link invariants
// atomically and returns ErrPlatformTaken / ErrAccountLinked on
// conflict.
type LinkStore interface {
	Link(ctx context.Context, l *PlatformLink) error
	Unlink(ctx context.Context, p platform.Platform, platformUserID string) error
	GetLink(ctx context.Context, p platform.Platform, platformUserID string) (*PlatformLink, error)
	LinksForAccount(ctx context.Context, accountID string) ([]*PlatformLink, error)
}

// ConversationStore manages conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendMessages(ctx context.Context, conversationID string, msgs ...*Message) error
	Messages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// SessionStore manages bot sessions keyed by session key.
// UpsertSession keeps the original created_at when the key already
// exists; concurrent upserts resolve last-writer-wins.
type SessionStore interface {
	GetSession(ctx context.Context, sessionKey string) (*BotSession, error)
	UpsertSession(ctx context.Context, s *BotSession) error
	DeleteSession(ctx context.Context, sessionKey string) error
}

// WorkflowStore manages scheduled workflows.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, accountID string) ([]*Workflow, error)
	ListEnabledWorkflows(ctx context.Context) ([]*Workflow, error)
	SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error
	RecordWorkflowRun(ctx context.Context, id string, at time.Time, runErr string) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// Store aggregates all persistence concerns behind one handle.
type Store interface {
	AccountStore
	LinkStore
	ConversationStore
	SessionStore
	WorkflowStore
	Close() error
}
