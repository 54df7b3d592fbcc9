package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/scheduler"
)

// DefaultPollInterval is how often a polling session receives job info.
const DefaultPollInterval = 5 * time.Second

// Events emitted by the poller.
const (
	EventInfo      = "info"
	EventCloseInfo = "closeInfoSocket"
)

// Emitter delivers an event to one connected session.
type Emitter interface {
	Emit(event string, payload any)
}

// Scheduler runs recurring ticks keyed by ID.
type Scheduler interface {
	Every(id, name string, interval time.Duration, fn scheduler.TaskFunc) error
	Cancel(id string) bool
}

// Poller owns the recurring info poll of a single session. At most one poll loop
// runs per poller; Start while polling is a no-op. A tick that completes after
// Stop or Close never reaches the emitter.
//
// Ticks, Poll and work passed to Exclusive run one at a time, so a command's
// result is emitted before any info fetched after the command was issued.
type Poller struct {
	id       string
	service  *Service
	sched    Scheduler
	emitter  Emitter
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// work is taken before mu, never while holding it.
	work sync.Mutex

	mu         sync.Mutex
	polling    bool
	closed     bool
	generation uint64
}

// NewPoller creates an idle poller for the session identified by id.
func NewPoller(id string, service *Service, sched Scheduler, emitter Emitter, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		id:       id,
		service:  service,
		sched:    sched,
		emitter:  emitter,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Str("session", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins polling. The first tick fires immediately. It reports whether a
// new loop was started.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.polling {
		return false
	}

	p.generation++
	gen := p.generation
	if err := p.sched.Every(p.id, "info poll", p.interval, func() { p.tick(gen) }); err != nil {
		p.logger.Error().Err(err).Msg("Failed to schedule info poll")
		return false
	}
	p.polling = true

	p.logger.Info().Dur("interval", p.interval).Msg("Info polling started")
	return true
}

// Stop cancels the poll loop if one is running and confirms with a
// closeInfoSocket event carrying the cleared handle. Safe to call while idle.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasPolling := p.stopLocked()
	if !p.closed {
		p.emitter.Emit(EventCloseInfo, nil)
	}
	return wasPolling
}

// Close stops polling for good and aborts any CLI call in flight.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.stopLocked()
	p.mu.Unlock()

	p.cancel()
}

// Polling reports whether a poll loop is active.
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

// Exclusive runs fn with no info request in flight for this session.
func (p *Poller) Exclusive(fn func()) {
	p.work.Lock()
	defer p.work.Unlock()
	fn()
}

// Poll runs a single info request outside the recurring loop.
func (p *Poller) Poll() {
	p.work.Lock()
	defer p.work.Unlock()

	jobs, err := p.service.Info(p.ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.emitInfo(jobs, err)
}

func (p *Poller) stopLocked() bool {
	if !p.polling {
		return false
	}
	p.polling = false
	p.generation++
	p.sched.Cancel(p.id)

	p.logger.Info().Msg("Info polling stopped")
	return true
}

func (p *Poller) tick(gen uint64) {
	p.work.Lock()
	defer p.work.Unlock()

	if !p.current(gen) {
		return
	}
	jobs, err := p.service.Info(p.ctx)

	// Emitting under the lock orders this tick strictly before or after Stop.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.polling || gen != p.generation {
		return
	}
	p.emitInfo(jobs, err)
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.polling && gen == p.generation
}

func (p *Poller) emitInfo(jobs []types.Job, err error) {
	if err != nil {
		p.logger.Warn().Err(err).Msg("Info poll failed")
		p.emitter.Emit(EventInfo, types.NewErrorResponse(err))
		return
	}
	p.emitter.Emit(EventInfo, jobs)
}
