package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/llm"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/pipeline"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
)

// Launcher starts one pipeline run. Satisfied by *pipeline.Runner.
type Launcher interface {
	Run(ctx context.Context, query, mode string) (*pipeline.RunResult, error)
}

// Scheduler polls the store for due scheduled queries and launches a
// pipeline run for each.
type Scheduler struct {
	store        *store.Store
	launcher     Launcher
	natsClient   *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, launcher Launcher, natsClient *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		launcher:     launcher,
		natsClient:   natsClient,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Reload nudges the run loop to pick up store changes before the next tick.
func (s *Scheduler) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			s.poll(ctx)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueQueries(time.Now())
	if err != nil {
		slog.Error("failed to get due queries", "error", err)
		return
	}

	for _, q := range due {
		s.execute(ctx, q)
	}
}

func (s *Scheduler) execute(ctx context.Context, q store.ScheduledQuery) {
	slog.Info("executing scheduled query", "id", q.ID, "name", q.Name, "mode", q.Mode)

	result, err := s.launcher.Run(ctx, q.Query, q.Mode)

	lastStatus := "success"
	lastError := ""
	runID := ""
	if result != nil {
		runID = result.RunID
	}
	if err != nil {
		lastStatus = "error"
		lastError = llm.Redact(err.Error())
		slog.Error("scheduled query failed", "id", q.ID, "error", lastError)
	}

	nextRun := schedule.NextRun(q.Schedule, time.Now())
	if err := s.store.RecordQueryRun(q.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to record query run", "id", q.ID, "error", err)
	}

	if s.natsClient != nil {
		payload := map[string]any{
			"query_id": q.ID,
			"name":     q.Name,
			"run_id":   runID,
			"status":   lastStatus,
			"at":       time.Now().UTC(),
		}
		if err := s.natsClient.PublishJSON(natsbus.TopicSchedulerEvents(), payload); err != nil {
			slog.Debug("scheduler event publish failed", "error", err)
		}
	}
}
