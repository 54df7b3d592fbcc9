//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apimw "github.com/seedshare/seedshare/internal/api/middleware"
	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/progress"
	"github.com/seedshare/seedshare/internal/websocket"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	health.Report
	Sessions int `json:"sessions"`
}

func (s *Server) healthCheck(c echo.Context) error {
	resp := HealthResponse{Report: health.Report{Status: health.StatusOK, Checks: []health.HealthItem{}}}
	if s.deps.Health != nil {
		resp.Report = s.deps.Health.Report()
	}
	if s.deps.Hub != nil {
		resp.Sessions = s.deps.Hub.Count()
	}
	return c.JSON(http.StatusOK, resp)
}

// listUploads returns in-flight and recently finished uploads.
// GET /api/system/uploads
func (s *Server) listUploads(c echo.Context) error {
	uploads := []progress.Upload{}
	if s.deps.Uploads != nil {
		uploads = s.deps.Uploads.Active()
	}
	return c.JSON(http.StatusOK, uploads)
}

// listSessions returns connected channel sessions.
// GET /api/system/sessions
func (s *Server) listSessions(c echo.Context) error {
	sessions := []websocket.SessionInfo{}
	if s.deps.Hub != nil {
		sessions = s.deps.Hub.Sessions()
	}
	return c.JSON(http.StatusOK, sessions)
}

// serveSession upgrades to the per-user channel.
// GET /ws/:username
func (s *Server) serveSession(c echo.Context) error {
	if s.deps.Hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions are not available")
	}
	return s.deps.Hub.Serve(c, apimw.User(c))
}
