// Package identity talks to the identity provider that owns credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identity is the provider's view of a user.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// Provider creates and authenticates identities.
type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	GetIdentity(ctx context.Context, uid string) (*Identity, error)
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	// Delete removes an identity. Sign-up compensation uses it.
	Delete(ctx context.Context, uid string) error
	// RevokeSessions invalidates refresh tokens held by the provider.
	RevokeSessions(ctx context.Context, uid string) error
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
}

// VerifiedToken is a provider-minted ID token that passed verification.
type VerifiedToken struct {
	Identity
	ExpiresAt time.Time
}

// TokenVerifier verifies tokens minted by the provider itself.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (*VerifiedToken, error)
}

// Provider error codes.
const (
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeEmailNotFound      = "EMAIL_NOT_FOUND"
	CodeInvalidPassword    = "INVALID_PASSWORD"
	CodeInvalidCredentials = "INVALID_LOGIN_CREDENTIALS"
	CodeUserDisabled       = "USER_DISABLED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS_TRY_LATER"
	CodeInvalidResetCode   = "INVALID_OOB_CODE"
	CodeExpiredResetCode   = "EXPIRED_OOB_CODE"
	CodeInvalidToken       = "INVALID_ID_TOKEN"
	CodeNotConfigured      = "NOT_CONFIGURED"
)

const defaultMessage = "Something went wrong. Please try again."

var messages = map[string]string{
	CodeEmailExists:        "An account with this email already exists.",
	CodeEmailNotFound:      "No account found with this email.",
	CodeInvalidPassword:    "Incorrect password.",
	CodeInvalidCredentials: "Invalid email or password.",
	CodeUserDisabled:       "This account has been disabled.",
	CodeUserNotFound:       "No account found for this user.",
	CodeWeakPassword:       "Password should be at least 6 characters.",
	CodeInvalidEmail:       "Please enter a valid email address.",
	CodeTooManyAttempts:    "Too many attempts. Please try again later.",
	CodeInvalidResetCode:   "This reset link is invalid or has already been used.",
	CodeExpiredResetCode:   "This reset link has expired.",
	CodeInvalidToken:       "Your session is invalid. Please sign in again.",
	CodeNotConfigured:      "Sign-in is not available right now.",
}

// Message translates a provider code into user-facing text.
func Message(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return defaultMessage
}

// Error is a provider failure carrying the provider code and its translation.
type Error struct {
	Code    string
	Message string
	Err     error
}

func NewError(code string, err error) *Error {
	return &Error{Code: code, Message: Message(code), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the provider code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Code
	}
	return ""
}
