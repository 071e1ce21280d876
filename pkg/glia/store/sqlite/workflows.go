package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glia-ai/glia/pkg/glia/store"
)

// CreateWorkflow inserts a new workflow.
func (s *Store) CreateWorkflow(ctx context.Context, w *store.Workflow) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, account_id, name, schedule, prompt, conversation_id, enabled, created_at, last_error, run_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0)`,
		w.ID, w.AccountID, w.Name, w.Schedule, w.Prompt, w.ConversationID, enabled, formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, schedule, prompt, conversation_id, enabled, created_at, last_run_at, last_error, run_count
		 FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows lists all workflows of one account.
func (s *Store) ListWorkflows(ctx context.Context, accountID string) ([]*store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, schedule, prompt, conversation_id, enabled, created_at, last_run_at, last_error, run_count
		 FROM workflows WHERE account_id = ? ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListEnabledWorkflows lists every enabled workflow across accounts,
// used to populate the scheduler at startup.
func (s *Store) ListEnabledWorkflows(ctx context.Context) ([]*store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, schedule, prompt, conversation_id, enabled, created_at, last_run_at, last_error, run_count
		 FROM workflows WHERE enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select enabled workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// SetWorkflowEnabled toggles a workflow on or off.
func (s *Store) SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordWorkflowRun stores the outcome of one scheduled run.
func (s *Store) RecordWorkflowRun(ctx context.Context, id string, at time.Time, runErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET last_run_at = ?, last_error = ?, run_count = run_count + 1 WHERE id = ?`,
		formatTime(at), runErr, id)
	if err != nil {
		return fmt.Errorf("record workflow run: %w", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*store.Workflow, error) {
	var w store.Workflow
	var enabled int
	var created string
	var lastRun sql.NullString
	if err := row.Scan(&w.ID, &w.AccountID, &w.Name, &w.Schedule, &w.Prompt,
		&w.ConversationID, &enabled, &created, &lastRun, &w.LastError, &w.RunCount); err != nil {
		return nil, err
	}
	w.Enabled = enabled != 0
	w.CreatedAt = parseTime(created)
	if lastRun.Valid {
		w.LastRunAt = parseTime(lastRun.String)
	}
	return &w, nil
}

func collectWorkflows(rows *sql.Rows) ([]*store.Workflow, error) {
	var out []*store.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
