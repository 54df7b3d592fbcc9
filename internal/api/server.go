// Package api wires the HTTP surface: user checks, downloads, published links,
// system endpoints and the per-user WebSocket channel.
//
//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	apimw "github.com/seedshare/seedshare/internal/api/middleware"
	"github.com/seedshare/seedshare/internal/api/handlers"
	"github.com/seedshare/seedshare/internal/api/ratelimit"
	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/logger"
	"github.com/seedshare/seedshare/internal/progress"
	"github.com/seedshare/seedshare/internal/storage"
	"github.com/seedshare/seedshare/internal/websocket"
)

const bodyLimit = "64K"

// Runner executes a program with an argument vector, never through a shell.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// Downloads starts new downloads.
type Downloads interface {
	Add(ctx context.Context, magnet, dir string) (string, error)
}

// SpaceChecker reports whether a download root has room for another job.
type SpaceChecker interface {
	HasSpace(ctx context.Context, path string) (bool, error)
}

// LinkStore lists and removes published objects.
type LinkStore interface {
	List(ctx context.Context, prefix string) ([]storage.Object, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// LogsProvider provides access to log data.
type LogsProvider interface {
	RecentLogs(limit int) []logger.LogEntry
	LogFilePath() string
}

// Dependencies are the collaborators behind the routes. Links may be nil when
// no bucket is configured.
type Dependencies struct {
	Users     []string
	Layout    *filesystem.Layout
	Downloads Downloads
	Space     SpaceChecker
	Identity  Runner
	Links     LinkStore
	Hub       *websocket.Hub
	Health    *health.Service
	Uploads   *progress.Manager
	Logs      LogsProvider
	Tasks     handlers.TaskLister
	Limiter   *ratelimit.Limiter

	// AdminToken guards /api/system. Empty restricts it to loopback clients.
	AdminToken string
}

// Server is the HTTP API server.
type Server struct {
	echo   *echo.Echo
	deps   Dependencies
	logger zerolog.Logger
}

// NewServer creates a new API server instance.
func NewServer(deps Dependencies, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.Config{})
	}

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	e.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.BodyLimit(bodyLimit))
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("requestId", v.RequestID).
				Msg("request")
			return nil
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	allow := apimw.AllowList("username", s.deps.Users, s.deps.Limiter)
	limited := s.deps.Limiter.Middleware()

	// Channel
	s.echo.GET("/ws/:username", s.serveSession, limited, allow)

	api := s.echo.Group("/api", limited)

	// Users
	users := api.Group("/users/:username", allow)
	users.GET("", s.checkUser)
	users.POST("/downloads", s.addDownload)

	// Published links
	links := api.Group("/links/:username", allow)
	links.GET("", s.listLinks)
	links.GET("/:key", s.getLink)
	links.DELETE("/:key", s.deleteLink)

	// System
	system := api.Group("/system", apimw.Admin(s.deps.AdminToken, s.deps.Limiter))
	NewLogsHandlers(s.deps.Logs).RegisterRoutes(system.Group("/logs"))
	system.GET("/uploads", s.listUploads)
	system.GET("/sessions", s.listSessions)
	if s.deps.Tasks != nil {
		tasks := handlers.NewSchedulerHandler(s.deps.Tasks)
		system.GET("/tasks", tasks.ListTasks)
	}
}

// errorHandler renders every failure in the {error:{message,status}} shape.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var resp types.ErrorResponse
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		resp = types.ErrorResponse{Error: types.ErrorPayload{Message: msg, Status: he.Code}}
	} else {
		resp = types.NewErrorResponse(err)
	}

	if resp.Error.Status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("Request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(resp.Error.Status)
	} else {
		err = c.JSON(resp.Error.Status, resp)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write error response")
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestContext(c echo.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), timeout)
}
