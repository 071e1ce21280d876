package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glia-ai/glia/pkg/glia/store"
)

// timeFormat is how timestamps are stored in TEXT columns.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a *store.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Timezone == "" {
		a.Timezone = "UTC"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, display_name, timezone, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.DisplayName, a.Timezone, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, timezone, created_at
		 FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Email, &a.DisplayName, &a.Timezone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}
