package middleware

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/seedshare/seedshare/internal/downloader/types"
)

// ErrAdminRequired is returned for system routes called without operator access.
var ErrAdminRequired = errors.New("administrator access required")

// Admin guards operator routes. With a token, requests must carry
// "Authorization: Bearer <token>". Without one, only loopback peers are
// admitted; forwarding headers are ignored.
func Admin(token string, recorder FailureRecorder) echo.MiddlewareFunc {
	deny := func(c echo.Context) error {
		if recorder != nil {
			recorder.RecordFailure(c.RealIP())
		}
		return c.JSON(http.StatusUnauthorized, types.ErrorResponse{
			Error: types.ErrorPayload{Message: ErrAdminRequired.Error(), Status: http.StatusUnauthorized},
		})
	}

	if token == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				if !isLoopback(c.Request().RemoteAddr) {
					return deny(c)
				}
				return next(c)
			}
		}
	}

	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			ok := subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1
			if ok && recorder != nil {
				recorder.RecordSuccess(c.RealIP())
			}
			return ok, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return deny(c)
		},
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
