//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apimw "github.com/seedshare/seedshare/internal/api/middleware"
	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/storage"
)

func (s *Server) linkStore() (LinkStore, error) {
	if s.deps.Links == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "object storage is not configured")
	}
	return s.deps.Links, nil
}

// linkKey resolves :key to "<user>/<file>".
func linkKey(c echo.Context) (string, error) {
	file, err := filesystem.SanitizeName(c.Param("key"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return storage.Key(apimw.User(c), file), nil
}

// listLinks lists the user's published objects.
// GET /api/links/:username
func (s *Server) listLinks(c echo.Context) error {
	store, err := s.linkStore()
	if err != nil {
		return err
	}

	user := apimw.User(c)
	objects, err := store.List(c.Request().Context(), storage.Key(user, ""))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, storage.Links(user, objects))
}

// getLink returns the public URL of one published object.
// GET /api/links/:username/:key
func (s *Server) getLink(c echo.Context) error {
	store, err := s.linkStore()
	if err != nil {
		return err
	}
	key, err := linkKey(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, store.PublicURL(key))
}

// deleteLink removes one published object.
// DELETE /api/links/:username/:key
func (s *Server) deleteLink(c echo.Context) error {
	store, err := s.linkStore()
	if err != nil {
		return err
	}
	key, err := linkKey(c)
	if err != nil {
		return err
	}

	if err := store.Delete(c.Request().Context(), key); err != nil {
		return err
	}

	s.logger.Info().Str("key", key).Msg("Published object deleted")
	return c.NoContent(http.StatusNoContent)
}
