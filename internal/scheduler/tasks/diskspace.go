package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/scheduler"
)

const DiskSpaceTaskID = "disk-space"

// SpaceChecker reports whether a download root has room for another job.
type SpaceChecker interface {
	HasSpace(ctx context.Context, path string) (bool, error)
}

type spaceTarget struct {
	id   string
	user string
	root string
}

// DiskSpaceTask warns through the health service when a user's download
// root drops below the free-space floor.
type DiskSpaceTask struct {
	checker SpaceChecker
	health  *health.Service
	targets []spaceTarget
	logger  zerolog.Logger
}

// NewDiskSpaceTask creates a disk space task for users and registers one
// health item per download root.
func NewDiskSpaceTask(checker SpaceChecker, svc *health.Service, layout *filesystem.Layout, users []string, logger zerolog.Logger) *DiskSpaceTask {
	t := &DiskSpaceTask{
		checker: checker,
		health:  svc,
		logger:  logger.With().Str("task", DiskSpaceTaskID).Logger(),
	}
	for _, user := range users {
		root, err := layout.DownloadRoot(user)
		if err != nil {
			t.logger.Warn().Err(err).Str("user", user).Msg("Skipping invalid user")
			continue
		}
		id := user + ":space"
		svc.RegisterItem(health.CategoryDownloadRoot, id, "Free space "+root)
		t.targets = append(t.targets, spaceTarget{id: id, user: user, root: root})
	}
	return t
}

// Run checks every download root once.
func (t *DiskSpaceTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, target := range t.targets {
		ok, err := t.checker.HasSpace(ctx, target.root)
		switch {
		case err != nil:
			t.logger.Warn().Err(err).Str("user", target.user).Msg("Disk space check failed")
			t.health.SetWarning(health.CategoryDownloadRoot, target.id, err.Error())
		case !ok:
			t.health.SetWarning(health.CategoryDownloadRoot, target.id, "free space is below the minimum, new downloads are refused")
		default:
			t.health.ClearStatus(health.CategoryDownloadRoot, target.id)
		}
	}
}

// RegisterDiskSpaceTask registers the disk space task with the scheduler.
func RegisterDiskSpaceTask(sched *scheduler.Scheduler, task *DiskSpaceTask, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return sched.Every(DiskSpaceTaskID, "Download Root Free Space", interval, task.Run)
}
