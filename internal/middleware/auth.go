package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/session"
)

// Authenticator resolves a bearer token into a session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Session, error)
}

const sessionKey = "session"

// SessionAuth requires a valid session token. The session is stored in the
// request context and on the echo context.
func SessionAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err != nil {
				return err
			}
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is missing")
			}
			if err := authenticate(c, auth, token); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// OptionalSessionAuth attaches a session when a valid token is present and
// lets anonymous requests through.
func OptionalSessionAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err == nil && token != "" {
				if err := authenticate(c, auth, token); err != nil {
					log.Debug().Err(err).Msg("Ignoring invalid token on public route")
				}
			}
			return next(c)
		}
	}
}

func authenticate(c echo.Context, auth Authenticator, token string) error {
	s, err := auth.Authenticate(c.Request().Context(), token)
	switch {
	case errors.Is(err, session.ErrRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, "Session has been signed out")
	case errors.Is(err, session.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	case err != nil:
		log.Error().Err(err).Msg("Session check failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Unable to verify session")
	}
	c.SetRequest(c.Request().WithContext(session.NewContext(c.Request().Context(), s)))
	c.Set(sessionKey, s)
	return nil
}

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on websocket upgrades, so those may pass access_token instead.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if websocket.IsWebSocketUpgrade(c.Request()) {
			return c.QueryParam("access_token"), nil
		}
		return "", nil
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Authorization header must be in Bearer format")
	}
	return parts[1], nil
}

// CurrentSession returns the session attached by SessionAuth.
func CurrentSession(c echo.Context) (*session.Session, bool) {
	s, ok := c.Get(sessionKey).(*session.Session)
	return s, ok && s != nil
}
