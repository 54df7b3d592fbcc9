package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// ErrAlreadyScheduled is returned when a recurring task with the same ID exists.
var ErrAlreadyScheduled = errors.New("task already scheduled")

// TaskFunc is the function signature for recurring tasks.
type TaskFunc func()

// TaskInfo contains information about a scheduled task for API responses.
type TaskInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	LastRun  *time.Time    `json:"lastRun,omitempty"`
	NextRun  *time.Time    `json:"nextRun,omitempty"`
}

// taskEntry holds internal task state.
type taskEntry struct {
	name     string
	interval time.Duration
	job      gocron.Job
	runs     int
	lastRun  *time.Time
}

// Scheduler runs recurring tasks keyed by ID. Each task fires immediately when
// scheduled and then on its interval; a tick that is still running when the next
// one is due causes that next one to be skipped, never run concurrently.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	tasks  map[string]*taskEntry
	mu     sync.RWMutex
}

// New creates a new scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("Starting scheduler")
	s.gocron.Start()
}

// Stop stops the scheduler gracefully, waiting for running ticks.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("Stopping scheduler")
	return s.gocron.Shutdown()
}

// Every schedules fn to run now and then every interval until Cancel is called.
func (s *Scheduler) Every(id, name string, interval time.Duration, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyScheduled, id)
	}

	entry := &taskEntry{name: name, interval: interval}

	job, err := s.gocron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.recordRun(id)
			fn()
		}),
		gocron.WithName(name),
		gocron.WithTags(id),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", id, err)
	}

	entry.job = job
	s.tasks[id] = entry

	s.logger.Debug().
		Str("id", id).
		Str("name", name).
		Dur("interval", interval).
		Msg("Scheduled recurring task")

	return nil
}

// Cancel removes a recurring task. It reports whether a task was removed.
// A tick already in flight is not interrupted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	entry, exists := s.tasks[id]
	if exists {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}

	if err := s.gocron.RemoveJob(entry.job.ID()); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Failed to remove job")
	}

	s.logger.Debug().Str("id", id).Int("runs", entry.runs).Msg("Cancelled recurring task")
	return true
}

// Has reports whether a task with the given ID is scheduled.
func (s *Scheduler) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

// ListTasks returns information about all scheduled tasks.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for id, entry := range s.tasks {
		info := TaskInfo{
			ID:       id,
			Name:     entry.name,
			Interval: entry.interval,
			Runs:     entry.runs,
			LastRun:  entry.lastRun,
		}

		nextRun, err := entry.job.NextRun()
		if err == nil {
			info.NextRun = &nextRun
		}

		tasks = append(tasks, info)
	}

	return tasks
}

func (s *Scheduler) recordRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	entry.runs++
	entry.lastRun = &now
}
