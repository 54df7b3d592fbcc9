//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	apimw "github.com/seedshare/seedshare/internal/api/middleware"
	"github.com/seedshare/seedshare/internal/downloader/types"
)

const identityTimeout = 10 * time.Second

// AddDownloadRequest is the body of POST /api/users/:username/downloads.
type AddDownloadRequest struct {
	MagnetLink string `json:"magnetLink"`
}

// checkUser confirms the allow-listed user also exists on the host.
// GET /api/users/:username
func (s *Server) checkUser(c echo.Context) error {
	user := apimw.User(c)
	if s.deps.Identity == nil {
		return c.JSON(http.StatusOK, map[string]string{"output": user})
	}

	ctx, cancel := requestContext(c, identityTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := s.deps.Identity.Run(ctx, "id", user)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", user, err)
	}
	if exitCode != 0 {
		msg := strings.TrimSpace(string(stderr))
		s.logger.Warn().Str("user", user).Int("exitCode", exitCode).Str("stderr", msg).Msg("User has no system account")
		return c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.ErrUnauthorized))
	}

	return c.JSON(http.StatusOK, map[string]string{"output": string(bytes.TrimRight(stdout, "\n"))})
}

// addDownload starts a magnet download into the user's download root.
// POST /api/users/:username/downloads
func (s *Server) addDownload(c echo.Context) error {
	if s.deps.Downloads == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "downloads are not available")
	}

	var req AddDownloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.MagnetLink) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "magnetLink is required")
	}

	user := apimw.User(c)
	dir, err := s.deps.Layout.DownloadRoot(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if s.deps.Space != nil {
		ok, err := s.deps.Space.HasSpace(ctx, dir)
		if err != nil {
			return fmt.Errorf("failed to check free space: %w", err)
		}
		if !ok {
			return c.JSON(http.StatusForbidden, types.NewErrorResponse(types.ErrNoSpace))
		}
	}

	out, err := s.deps.Downloads.Add(ctx, req.MagnetLink, dir)
	if err != nil {
		return err
	}

	s.logger.Info().Str("user", user).Str("dir", dir).Msg("Download added")
	return c.JSON(http.StatusOK, map[string]string{"output": out})
}
