// Package tasks registers SeedShare's recurring background jobs.
package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/scheduler"
)

const HealthTaskID = "health"

// HealthTask runs every registered health probe.
type HealthTask struct {
	health  *health.Service
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHealthTask creates a health probe task. Each run is bounded by timeout.
func NewHealthTask(svc *health.Service, timeout time.Duration, logger zerolog.Logger) *HealthTask {
	return &HealthTask{
		health:  svc,
		timeout: timeout,
		logger:  logger.With().Str("task", HealthTaskID).Logger(),
	}
}

// Run executes the probes.
func (t *HealthTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	t.health.RunProbes(ctx)

	report := t.health.Report()
	t.logger.Debug().Str("status", string(report.Status)).Int("checks", len(report.Checks)).Msg("Health probes completed")
}

// RegisterHealthTask registers the health probe task with the scheduler. It
// runs immediately and then every interval.
func RegisterHealthTask(sched *scheduler.Scheduler, svc *health.Service, interval time.Duration, logger zerolog.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	task := NewHealthTask(svc, interval/2, logger)
	return sched.Every(HealthTaskID, "Health Probes", interval, task.Run)
}
