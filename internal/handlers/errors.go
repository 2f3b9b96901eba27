package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/middleware"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

var appStatus = map[string]int{
	models.CodeNotFound:     http.StatusNotFound,
	models.CodeValidation:   http.StatusBadRequest,
	models.CodeUnauthorized: http.StatusUnauthorized,
	models.CodeForbidden:    http.StatusForbidden,
	models.CodeConflict:     http.StatusConflict,
	models.CodeUnavailable:  http.StatusServiceUnavailable,
}

var identityStatus = map[string]int{
	identity.CodeEmailExists:        http.StatusConflict,
	identity.CodeEmailNotFound:      http.StatusUnauthorized,
	identity.CodeInvalidPassword:    http.StatusUnauthorized,
	identity.CodeInvalidCredentials: http.StatusUnauthorized,
	identity.CodeUserDisabled:       http.StatusForbidden,
	identity.CodeUserNotFound:       http.StatusNotFound,
	identity.CodeWeakPassword:       http.StatusBadRequest,
	identity.CodeInvalidEmail:       http.StatusBadRequest,
	identity.CodeTooManyAttempts:    http.StatusTooManyRequests,
	identity.CodeInvalidResetCode:   http.StatusBadRequest,
	identity.CodeExpiredResetCode:   http.StatusBadRequest,
	identity.CodeInvalidToken:       http.StatusUnauthorized,
	identity.CodeNotConfigured:      http.StatusServiceUnavailable,
}

// httpError maps a service error onto an echo HTTP error.
func httpError(err error) error {
	var (
		partial *services.PartialFailureError
		idErr   *identity.Error
		appErr  *models.AppError
	)
	switch {
	case errors.As(err, &appErr) && appErr.Code == models.CodeValidation:
		return echo.NewHTTPError(http.StatusBadRequest, appErr.Message)
	case errors.As(err, &partial):
		log.Error().Err(err).Str("flow", partial.Flow).Str("step", partial.Step).Msg("Request left a partial write")
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]interface{}{
			"message":     "The request could not be completed",
			"flow":        partial.Flow,
			"step":        partial.Step,
			"compensated": partial.Compensated,
		})
	case errors.As(err, &idErr):
		status, ok := identityStatus[idErr.Code]
		if !ok {
			status = http.StatusBadGateway
		}
		return echo.NewHTTPError(status, map[string]string{"message": idErr.Message, "code": idErr.Code})
	case errors.As(err, &appErr):
		status, ok := appStatus[appErr.Code]
		if !ok {
			log.Error().Err(err).Msg("Request failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
		}
		return echo.NewHTTPError(status, appErr.Message)
	case errors.Is(err, storage.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "Request timed out")
	}
	log.Error().Err(err).Msg("Request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}

// requireSession returns the caller's session or a 401.
func requireSession(c echo.Context) (*session.Session, error) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Sign in required")
	}
	return sess, nil
}

// optionalSession returns the caller's session, or nil on anonymous requests.
func optionalSession(c echo.Context) *session.Session {
	sess, _ := middleware.CurrentSession(c)
	return sess
}

// bindAndValidate binds the request body into req and runs the echo validator.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(req); err != nil {
		return httpError(err)
	}
	return nil
}
