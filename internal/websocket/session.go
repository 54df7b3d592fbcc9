package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seedshare/seedshare/internal/downloader"
	"github.com/seedshare/seedshare/internal/downloader/types"
)

// Client events.
const (
	EventGetInfo           = "getInfo"
	EventStartInfoInterval = "startInfoInterval"
	EventCloseInfoSocket   = downloader.EventCloseInfo
	EventPause             = "pause"
	EventResume            = "resume"
	EventDelete            = "delete"
	EventUpload            = "upload"
)

// Server-only events.
const (
	EventInfo  = downloader.EventInfo
	EventError = "error"
)

// UploadResult is the payload of a successful upload event.
type UploadResult struct {
	URL string `json:"url"`
}

// statusError is a client-facing error with an explicit status.
type statusError struct {
	msg    string
	status int
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }

var (
	errUploadsDisabled = &statusError{"uploads are not configured", http.StatusServiceUnavailable}
	errShuttingDown    = &statusError{"server is shutting down", http.StatusServiceUnavailable}
	errInternal        = &statusError{"internal error", http.StatusInternalServerError}
)

func badRequest(format string, args ...any) error {
	return &statusError{fmt.Sprintf(format, args...), http.StatusBadRequest}
}

// Session is one connected client.
type Session struct {
	id          string
	user        string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	poller      *downloader.Poller
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	logger zerolog.Logger
}

func newSession(h *Hub, conn *websocket.Conn, id, user string) *Session {
	ctx, cancel := context.WithCancel(h.ctx)
	s := &Session{
		id:          id,
		user:        user,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      h.logger.With().Str("session", id).Str("user", user).Logger(),
	}
	if h.deps.Downloader != nil && h.deps.Scheduler != nil {
		s.poller = downloader.NewPoller(id, h.deps.Downloader, h.deps.Scheduler, s, h.deps.PollInterval, h.base)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	polling := false
	if s.poller != nil {
		polling = s.poller.Polling()
	}
	return SessionInfo{ID: s.id, User: s.user, Polling: polling, ConnectedAt: s.connectedAt}
}

// Emit queues an event for the client. Emitting on a closed session is a
// no-op. A client whose queue is full is disconnected.
func (s *Session) Emit(event string, payload any) {
	data, err := json.Marshal(Message{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.send <- data:
	default:
		s.logger.Warn().Str("event", event).Msg("Send queue full, closing session")
		s.closeSendLocked()
	}
}

func (s *Session) closeSendLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// close stops the poll loop and the send queue. The poller is closed outside
// the session lock since poll ticks emit while holding the poller lock.
func (s *Session) close() {
	s.mu.Lock()
	s.closeSendLocked()
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.Close()
	}
	s.cancel()
}

// readPump reads client events and handles them in order.
func (s *Session) readPump() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		s.dispatch(message)
	}
}

// writePump writes queued events to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one client event. A panic in a handler is reported to the
// client instead of tearing down the process.
func (s *Session) dispatch(raw []byte) {
	var msg inbound
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", msg.Type).Msg("Recovered from panic in event handler")
			s.Emit(EventError, types.NewErrorResponse(errInternal))
		}
	}()

	if err := json.Unmarshal(raw, &msg); err != nil {
		s.Emit(EventError, types.NewErrorResponse(badRequest("malformed message: %v", err)))
		return
	}

	s.logger.Debug().Str("event", msg.Type).Msg("Received event")

	switch msg.Type {
	case EventGetInfo:
		if s.requirePoller() {
			s.poller.Poll()
		}
	case EventStartInfoInterval:
		if s.requirePoller() {
			s.poller.Start()
		}
	case EventCloseInfoSocket:
		if s.requirePoller() {
			s.poller.Stop()
		}
	case EventPause:
		s.command(EventPause, msg.Payload, s.hub.deps.Downloader.Pause)
	case EventResume:
		s.command(EventResume, msg.Payload, s.hub.deps.Downloader.Resume)
	case EventDelete:
		s.handleDelete(msg.Payload)
	case EventUpload:
		s.handleUpload(msg.Payload)
	default:
		s.Emit(EventError, types.NewErrorResponse(fmt.Errorf("%w: %q", types.ErrUnknownAction, msg.Type)))
	}
}

func (s *Session) requirePoller() bool {
	if s.poller == nil {
		s.Emit(EventError, types.NewErrorResponse(&statusError{"job info is not available", http.StatusServiceUnavailable}))
		return false
	}
	return true
}

func (s *Session) command(event string, payload json.RawMessage, fn func(context.Context, string) (string, error)) {
	id, err := decodeID(payload)
	if err != nil {
		s.Emit(event, types.NewErrorResponse(err))
		return
	}

	s.exclusive(func() {
		out, err := fn(s.ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("event", event).Str("id", id).Msg("Command failed")
			s.Emit(event, types.NewErrorResponse(err))
			return
		}
		s.Emit(event, out)
	})
}

func (s *Session) handleDelete(payload json.RawMessage) {
	var req types.DeleteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.Emit(EventDelete, types.NewErrorResponse(badRequest("invalid delete payload: %v", err)))
		return
	}
	s.exclusive(func() {
		out, err := s.hub.deps.Downloader.Delete(s.ctx, req)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", string(req.ID)).Msg("Delete failed")
			s.Emit(EventDelete, types.NewErrorResponse(err))
			return
		}
		s.Emit(EventDelete, out)
	})
}

// exclusive runs a job command and emits its result with no info poll of this
// session in between.
func (s *Session) exclusive(fn func()) {
	if s.poller == nil {
		fn()
		return
	}
	s.poller.Exclusive(fn)
}

func (s *Session) handleUpload(payload json.RawMessage) {
	var job types.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		s.Emit(EventUpload, types.NewErrorResponse(badRequest("invalid upload payload: %v", err)))
		return
	}
	if strings.TrimSpace(job.Name) == "" {
		s.Emit(EventUpload, types.NewErrorResponse(badRequest("job name is required")))
		return
	}
	s.hub.publish(s, job)
}

// decodeID accepts a job id sent as a JSON string or number.
func decodeID(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", types.ErrEmptyArgument
	}
	var id types.JobID
	if err := json.Unmarshal(payload, &id); err != nil {
		return "", badRequest("%v", err)
	}
	return string(id), nil
}
