package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// HistoryPruner deletes price history older than a cutoff.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// Maintenance runs housekeeping jobs on a cron schedule.
type Maintenance struct {
	cron      *gocron.Scheduler
	pruner    HistoryPruner
	retention time.Duration
	runAt     string
	now       func() time.Time
}

// NewMaintenance creates the job runner. runAt is the daily UTC run time ("HH:MM").
func NewMaintenance(pruner HistoryPruner, retention time.Duration, runAt string) *Maintenance {
	if runAt == "" {
		runAt = "03:00"
	}
	return &Maintenance{
		cron:      gocron.NewScheduler(time.UTC),
		pruner:    pruner,
		retention: retention,
		runAt:     runAt,
		now:       time.Now,
	}
}

// Start registers the jobs and runs them asynchronously.
func (m *Maintenance) Start(ctx context.Context) error {
	if m.retention <= 0 {
		slog.Info("History retention disabled")
		return nil
	}

	_, err := m.cron.Every(1).Day().At(m.runAt).Do(func() {
		if _, err := m.PruneHistory(ctx); err != nil {
			slog.Error("History prune failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule history prune: %w", err)
	}

	m.cron.StartAsync()
	slog.Info("Maintenance jobs started",
		slog.String("run_at", m.runAt),
		slog.Duration("retention", m.retention),
	)
	return nil
}

// Stop halts the cron scheduler.
func (m *Maintenance) Stop() {
	m.cron.Stop()
}

// PruneHistory deletes ticks older than the retention window.
func (m *Maintenance) PruneHistory(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.retention)
	n, err := m.pruner.PruneHistory(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	slog.Info("Pruned price history", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	return n, nil
}
