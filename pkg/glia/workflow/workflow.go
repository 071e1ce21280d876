// Package workflow runs scheduled silent agent invocations. Each
// workflow belongs to an account, carries a cron schedule evaluated in
// the account's timezone, and appends its results to a dedicated
// conversation.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/chat"
	"github.com/glia-ai/glia/pkg/glia/store"
)

// runTimeout bounds one scheduled agent run.
const runTimeout = 5 * time.Minute

// Store is the persistence the scheduler needs.
type Store interface {
	store.WorkflowStore
	store.AccountStore
	store.ConversationStore
}

// Scheduler owns the cron runner and the registered workflows.
type Scheduler struct {
	store     Store
	agent     agent.Agent
	persister *chat.Persister
	cron      *cron.Cron
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // workflow id -> cron entry
}

// NewScheduler creates a scheduler. Call Start to load and arm the
// enabled workflows.
func NewScheduler(s Store, a agent.Agent, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "workflow")
	return &Scheduler{
		store:     s,
		agent:     a,
		persister: chat.NewPersister(s, logger),
		cron:      cron.New(),
		logger:    logger,
		entries:   make(map[string]cron.EntryID),
	}
}

// Start loads every enabled workflow, registers it and starts the cron
// runner.
func (s *Scheduler) Start(ctx context.Context) error {
	wfs, err := s.store.ListEnabledWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	for _, w := range wfs {
		if err := s.Register(ctx, w); err != nil {
			s.logger.Error("skipping workflow with bad schedule",
				"workflow_id", w.ID, "schedule", w.Schedule, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("workflow scheduler started", "workflows", len(s.entries))
	return nil
}

// Stop halts the cron runner and waits for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register arms one workflow. The schedule is evaluated in the owning
// account's timezone via a CRON_TZ prefix unless the schedule already
// pins one.
func (s *Scheduler) Register(ctx context.Context, w *store.Workflow) error {
	spec, err := s.localizedSpec(ctx, w)
	if err != nil {
		return err
	}

	id := w.ID
	entry, err := s.cron.AddFunc(spec, func() { s.run(id) })
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.entries[w.ID]; ok {
		s.cron.Remove(old)
	}
	s.entries[w.ID] = entry
	s.mu.Unlock()

	s.logger.Info("workflow registered", "workflow_id", w.ID, "schedule", spec)
	return nil
}

// Unregister disarms one workflow.
func (s *Scheduler) Unregister(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[workflowID]; ok {
		s.cron.Remove(entry)
		delete(s.entries, workflowID)
	}
}

func (s *Scheduler) localizedSpec(ctx context.Context, w *store.Workflow) (string, error) {
	if strings.HasPrefix(w.Schedule, "CRON_TZ=") || strings.HasPrefix(w.Schedule, "TZ=") {
		return w.Schedule, nil
	}
	acct, err := s.store.GetAccount(ctx, w.AccountID)
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	tz := acct.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		s.logger.Warn("unknown account timezone, falling back to UTC",
			"account_id", acct.ID, "timezone", tz)
		tz = "UTC"
	}
	return fmt.Sprintf("CRON_TZ=%s %s", tz, w.Schedule), nil
}

// run executes one scheduled invocation. The workflow is re-read so a
// disable between fire and run is honored.
func (s *Scheduler) run(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	w, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		s.logger.Error("workflow vanished", "workflow_id", workflowID, "error", err)
		s.Unregister(workflowID)
		return
	}
	if !w.Enabled {
		s.Unregister(workflowID)
		return
	}

	start := time.Now()
	resp, err := s.agent.Run(ctx, agent.Request{Prompt: w.Prompt})
	runErr := ""
	if err != nil {
		runErr = err.Error()
		s.logger.Error("workflow run failed",
			"workflow_id", w.ID, "name", w.Name, "error", err)
	} else {
		s.logger.Info("workflow run finished",
			"workflow_id", w.ID,
			"name", w.Name,
			"duration_ms", time.Since(start).Milliseconds())
		if w.ConversationID != "" {
			s.persister.SaveExchange(ctx, w.ConversationID, w.Prompt, resp)
		}
	}

	if err := s.store.RecordWorkflowRun(ctx, w.ID, start, runErr); err != nil {
		s.logger.Error("failed to record workflow run", "workflow_id", w.ID, "error", err)
	}
}
