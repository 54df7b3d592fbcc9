// Package websocket serves the per-user job channel: session registration,
// info polling, job commands and upload results.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/downloader"
	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/progress"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// inbound is a frame received from a client.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher runs the upload pipeline for a completed job.
type Publisher interface {
	Run(ctx context.Context, user string, job types.Job, emitter progress.Emitter) (string, error)
}

// Dependencies are the services sessions act on.
type Dependencies struct {
	Downloader   *downloader.Service
	Scheduler    downloader.Scheduler
	Publisher    Publisher
	PollInterval time.Duration
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	Polling     bool      `json:"polling"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Hub tracks connected sessions.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex

	deps Dependencies

	// ctx outlives individual sessions so uploads finish after a disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	// uploadMu orders uploads.Add against the Wait in Close.
	uploadMu sync.Mutex
	closing  bool
	uploads  sync.WaitGroup

	base   zerolog.Logger
	logger zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(deps Dependencies, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
		deps:       deps,
		ctx:        ctx,
		cancel:     cancel,
		base:       logger,
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// Run starts the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			h.mu.Unlock()
			s.logger.Info().Msg("Session connected")

		case s := <-h.unregister:
			h.mu.Lock()
			_, ok := h.sessions[s]
			delete(h.sessions, s)
			h.mu.Unlock()
			if ok {
				s.close()
				s.logger.Info().Msg("Session disconnected")
			}

		case <-h.done:
			h.mu.Lock()
			sessions := make([]*Session, 0, len(h.sessions))
			for s := range h.sessions {
				sessions = append(sessions, s)
			}
			h.sessions = make(map[*Session]bool)
			h.mu.Unlock()

			for _, s := range sessions {
				s.close()
			}
			return
		}
	}
}

// Close disconnects every session and waits up to ctx for running uploads.
// Uploads still running when ctx expires are cancelled.
func (h *Hub) Close(ctx context.Context) {
	h.closeOnce.Do(func() { close(h.done) })

	h.uploadMu.Lock()
	h.closing = true
	h.uploadMu.Unlock()

	finished := make(chan struct{})
	go func() {
		h.uploads.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		h.logger.Warn().Msg("Cancelling uploads still running at shutdown")
	}
	h.cancel()
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions lists connected sessions, oldest first.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	infos := make([]SessionInfo, 0, len(h.sessions))
	for s := range h.sessions {
		infos = append(infos, s.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Serve upgrades the request to a WebSocket session for user. The user must
// already be authorized.
func (h *Hub) Serve(c echo.Context, user string) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s := newSession(h, conn, uuid.New().String(), user)

	select {
	case h.register <- s:
	case <-h.done:
		s.close()
		conn.Close()
		return nil
	}

	go s.writePump()
	go s.readPump()

	return nil
}

func (h *Hub) remove(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
		s.close()
	}
}

// publish runs the pipeline for s on the hub context and reports the result.
func (h *Hub) publish(s *Session, job types.Job) {
	if h.deps.Publisher == nil {
		s.Emit(EventUpload, types.NewErrorResponse(errUploadsDisabled))
		return
	}
	h.uploadMu.Lock()
	if h.closing {
		h.uploadMu.Unlock()
		s.Emit(EventUpload, types.NewErrorResponse(errShuttingDown))
		return
	}
	h.uploads.Add(1)
	h.uploadMu.Unlock()

	go func() {
		defer h.uploads.Done()

		url, err := h.deps.Publisher.Run(h.ctx, s.user, job, s)
		if err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("Upload failed")
			s.Emit(EventUpload, types.NewErrorResponse(err))
			return
		}
		s.Emit(EventUpload, UploadResult{URL: url})
	}()
}
