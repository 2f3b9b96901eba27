package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

const (
	minPasswordLength = 6
	resetCodeTTL      = time.Hour
)

// ResetMailer delivers password reset codes.
type ResetMailer func(ctx context.Context, email, code string)

// LogResetMailer writes the reset code to the log. It stands in for a mail
// service in development.
func LogResetMailer(_ context.Context, email, code string) {
	log.Info().Str("email", email).Str("code", code).Msg("Password reset requested")
}

// LocalProvider keeps identities in the relational database with bcrypt
// password hashes.
type LocalProvider struct {
	users  repositories.UserRepository
	mailer ResetMailer
	now    func() time.Time
}

func NewLocalProvider(users repositories.UserRepository, mailer ResetMailer) *LocalProvider {
	if mailer == nil {
		mailer = LogResetMailer
	}
	return &LocalProvider{users: users, mailer: mailer, now: time.Now}
}

func hashResetCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (p *LocalProvider) SignUp(_ context.Context, email, password, displayName string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return nil, NewError(CodeInvalidEmail, nil)
	}
	if len(password) < minPasswordLength {
		return nil, NewError(CodeWeakPassword, nil)
	}
	if _, err := p.users.GetUserByEmail(email); err == nil {
		return nil, NewError(CodeEmailExists, nil)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.LocalUser{
		UID:         uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Password:    string(hashedPassword),
	}
	if err := p.users.CreateUser(user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, NewError(CodeEmailExists, err)
		}
		return nil, err
	}
	return &Identity{UID: user.UID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

func (p *LocalProvider) SignIn(_ context.Context, email, password string) (*Identity, error) {
	user, err := p.users.GetUserByEmail(strings.TrimSpace(email))
	if errors.Is(err, models.ErrNotFound) {
		return nil, NewError(CodeInvalidCredentials, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, NewError(CodeInvalidCredentials, nil)
	}
	if user.Disabled {
		return nil, NewError(CodeUserDisabled, nil)
	}
	return &Identity{UID: user.UID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

func (p *LocalProvider) GetIdentity(_ context.Context, uid string) (*Identity, error) {
	user, err := p.users.GetUserByUID(uid)
	if errors.Is(err, models.ErrNotFound) {
		return nil, NewError(CodeUserNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return &Identity{UID: user.UID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

func (p *LocalProvider) UpdateDisplayName(_ context.Context, uid, displayName string) error {
	user, err := p.users.GetUserByUID(uid)
	if errors.Is(err, models.ErrNotFound) {
		return NewError(CodeUserNotFound, err)
	}
	if err != nil {
		return err
	}
	user.DisplayName = displayName
	return p.users.UpdateUser(user)
}

func (p *LocalProvider) Delete(_ context.Context, uid string) error {
	err := p.users.DeleteUser(uid)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// RevokeSessions has nothing to revoke: local sessions are only the tokens the
// session issuer denylists on sign-out.
func (p *LocalProvider) RevokeSessions(context.Context, string) error {
	return nil
}

// SendPasswordReset succeeds for unknown emails too, so the endpoint does not
// reveal which addresses have accounts.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	user, err := p.users.GetUserByEmail(strings.TrimSpace(email))
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	code := uuid.NewString()
	expires := p.now().Add(resetCodeTTL)
	user.ResetTokenHash = hashResetCode(code)
	user.ResetExpiresAt = &expires
	if err := p.users.UpdateUser(user); err != nil {
		return err
	}
	p.mailer(ctx, user.Email, code)
	return nil
}

func (p *LocalProvider) ConfirmPasswordReset(_ context.Context, code, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return NewError(CodeWeakPassword, nil)
	}
	user, err := p.users.GetUserByResetToken(hashResetCode(code))
	if errors.Is(err, models.ErrNotFound) {
		return NewError(CodeInvalidResetCode, nil)
	}
	if err != nil {
		return err
	}
	if user.ResetExpiresAt == nil || p.now().After(*user.ResetExpiresAt) {
		return NewError(CodeExpiredResetCode, nil)
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashedPassword)
	user.ResetTokenHash = ""
	user.ResetExpiresAt = nil
	return p.users.UpdateUser(user)
}
