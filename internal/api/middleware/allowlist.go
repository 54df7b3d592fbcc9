package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/filesystem"
)

// UserKey is the context key holding the sanitized, allow-listed username.
const UserKey = "user"

// FailureRecorder tracks authorization outcomes per client IP.
type FailureRecorder interface {
	RecordFailure(ip string)
	RecordSuccess(ip string)
}

// AllowList admits requests whose :param names a registered user. The
// username is sanitized before lookup; an empty list admits nobody.
func AllowList(param string, users []string, recorder FailureRecorder) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(users))
	for _, u := range users {
		allowed[u] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := filesystem.SanitizeUser(c.Param(param))
			if err == nil {
				if _, ok := allowed[user]; !ok {
					err = types.ErrUnauthorized
				}
			}
			if err != nil {
				if recorder != nil {
					recorder.RecordFailure(c.RealIP())
				}
				return c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.ErrUnauthorized))
			}

			if recorder != nil {
				recorder.RecordSuccess(c.RealIP())
			}
			c.Set(UserKey, user)
			return next(c)
		}
	}
}

// User returns the username stored by AllowList.
func User(c echo.Context) string {
	user, _ := c.Get(UserKey).(string)
	return user
}
