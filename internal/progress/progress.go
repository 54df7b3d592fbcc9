// Package progress tracks active uploads and reports their progress to the
// session that started them.
package progress

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventProgress is the channel event carrying upload progress.
const EventProgress = "progress"

// Emitter delivers an event to one session.
type Emitter interface {
	Emit(event string, payload any)
}

// Status represents the current state of an upload.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Update is the payload of a progress event.
type Update struct {
	FileName string  `json:"fileName"`
	Progress float64 `json:"progress"`
}

// Upload is a tracked upload.
type Upload struct {
	ID          string     `json:"id"`
	User        string     `json:"user"`
	FileName    string     `json:"fileName"`
	Progress    float64    `json:"progress"`
	Transferred int64      `json:"transferred"`
	Total       int64      `json:"total"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// Percent returns transferred/total as a percentage rounded to two decimals.
func Percent(transferred, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(transferred) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}

// Manager tracks all uploads in the process.
type Manager struct {
	uploads map[string]*Upload
	retain  time.Duration
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewManager creates a new progress manager. Finished uploads stay listed for
// retain before they are dropped.
func NewManager(retain time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		uploads: make(map[string]*Upload),
		retain:  retain,
		logger:  logger.With().Str("component", "progress").Logger(),
	}
}

// Start begins tracking an upload whose events go to emitter.
func (m *Manager) Start(id, user, fileName string, emitter Emitter) *Tracker {
	m.mu.Lock()
	m.uploads[id] = &Upload{
		ID:        id,
		User:      user,
		FileName:  fileName,
		Status:    StatusInProgress,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()

	m.logger.Debug().
		Str("id", id).
		Str("user", user).
		Str("file", fileName).
		Msg("Upload started")

	return &Tracker{manager: m, id: id, fileName: fileName, emitter: emitter}
}

// Active returns a snapshot of tracked uploads, oldest first.
func (m *Manager) Active() []Upload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Upload, 0, len(m.uploads))
	for _, u := range m.uploads {
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// Get returns a snapshot of one upload.
func (m *Manager) Get(id string) (Upload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[id]
	if !ok {
		return Upload{}, false
	}
	return *u, true
}

func (m *Manager) update(id string, transferred, total int64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[id]
	if !ok || u.Status != StatusInProgress {
		return 0, false
	}
	u.Transferred = transferred
	u.Total = total
	u.Progress = Percent(transferred, total)
	return u.Progress, true
}

func (m *Manager) finish(id string, status Status, errMsg string) {
	m.mu.Lock()
	u, ok := m.uploads[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	u.Status = status
	u.Error = errMsg
	u.CompletedAt = &now
	if status == StatusCompleted {
		u.Progress = 100
	}
	m.mu.Unlock()

	m.logger.Debug().
		Str("id", id).
		Str("status", string(status)).
		Str("error", errMsg).
		Msg("Upload finished")

	if m.retain <= 0 {
		m.remove(id)
		return
	}
	time.AfterFunc(m.retain, func() { m.remove(id) })
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.uploads, id)
	m.mu.Unlock()
}

// Tracker reports progress for a single upload.
type Tracker struct {
	manager  *Manager
	id       string
	fileName string
	emitter  Emitter
}

// ID returns the upload's id.
func (t *Tracker) ID() string {
	return t.id
}

// Update records a transfer update and emits a progress event.
func (t *Tracker) Update(transferred, total int64) {
	pct, ok := t.manager.update(t.id, transferred, total)
	if !ok || t.emitter == nil {
		return
	}
	t.emitter.Emit(EventProgress, Update{FileName: t.fileName, Progress: pct})
}

// Complete marks the upload as done.
func (t *Tracker) Complete() {
	t.manager.finish(t.id, StatusCompleted, "")
}

// Fail marks the upload as failed.
func (t *Tracker) Fail(errMsg string) {
	t.manager.finish(t.id, StatusFailed, errMsg)
}
