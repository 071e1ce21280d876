package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// Link creates a platform link. Both conflict checks run inside one
// transaction so concurrent link attempts cannot slip past each other.
func (s *Store) Link(ctx context.Context, l *store.PlatformLink) error {
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existingAccount string
	err = tx.QueryRowContext(ctx,
		`SELECT account_id FROM platform_links WHERE platform = ? AND platform_user_id = ?`,
		l.Platform.String(), l.PlatformUserID).Scan(&existingAccount)
	switch {
	case err == nil:
		if existingAccount == l.AccountID {
			return nil // already linked, nothing to do
		}
		return store.ErrPlatformTaken
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check platform link: %w", err)
	}

	var existingUser string
	err = tx.QueryRowContext(ctx,
		`SELECT platform_user_id FROM platform_links WHERE account_id = ? AND platform = ?`,
		l.AccountID, l.Platform.String()).Scan(&existingUser)
	switch {
	case err == nil:
		return store.ErrAccountLinked
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check account link: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO platform_links (platform, platform_user_id, account_id, username, display_name, linked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.Platform.String(), l.PlatformUserID, l.AccountID, l.Username, l.DisplayName, formatTime(l.LinkedAt))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}

	return tx.Commit()
}

// Unlink removes a platform link. Missing links are not an error.
func (s *Store) Unlink(ctx context.Context, p platform.Platform, platformUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM platform_links WHERE platform = ? AND platform_user_id = ?`,
		p.String(), platformUserID)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// GetLink loads the link for a platform identity.
func (s *Store) GetLink(ctx context.Context, p platform.Platform, platformUserID string) (*store.PlatformLink, error) {
	var l store.PlatformLink
	var plat, linked string
	err := s.db.QueryRowContext(ctx,
		`SELECT platform, platform_user_id, account_id, username, display_name, linked_at
		 FROM platform_links WHERE platform = ? AND platform_user_id = ?`,
		p.String(), platformUserID).
		Scan(&plat, &l.PlatformUserID, &l.AccountID, &l.Username, &l.DisplayName, &linked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select link: %w", err)
	}
	l.Platform = platform.Platform(plat)
	l.LinkedAt = parseTime(linked)
	return &l, nil
}

// LinksForAccount lists all platform links of one account.
func (s *Store) LinksForAccount(ctx context.Context, accountID string) ([]*store.PlatformLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, platform_user_id, account_id, username, display_name, linked_at
		 FROM platform_links WHERE account_id = ? ORDER BY platform`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()

	var links []*store.PlatformLink
	for rows.Next() {
		var l store.PlatformLink
		var plat, linked string
		if err := rows.Scan(&plat, &l.PlatformUserID, &l.AccountID, &l.Username, &l.DisplayName, &linked); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.Platform = platform.Platform(plat)
		l.LinkedAt = parseTime(linked)
		links = append(links, &l)
	}
	return links, rows.Err()
}
