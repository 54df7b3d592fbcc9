package tasks

import (
	"time"

	"github.com/seedshare/seedshare/internal/scheduler"
)

const LimiterCleanupTaskID = "ratelimit-cleanup"

// Cleaner drops expired state.
type Cleaner interface {
	Cleanup()
}

// RegisterLimiterCleanupTask periodically prunes idle rate limiter entries.
func RegisterLimiterCleanupTask(sched *scheduler.Scheduler, limiter Cleaner, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return sched.Every(LimiterCleanupTaskID, "Rate Limiter Cleanup", interval, limiter.Cleanup)
}
