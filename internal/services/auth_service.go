package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
)

const flowSignUp = "sign_up"

// AuthResult is returned by sign-up and sign-in.
type AuthResult struct {
	Token   string           `json:"token"`
	Session *session.Session `json:"session"`
}

// AuthService is the auth gateway: identities live with the provider and
// each one is mirrored by a profile document.
type AuthService struct {
	idp        identity.Provider
	profiles   repositories.ProfileRepository
	issuer     *session.Issuer
	denylist   session.Denylist
	ledger     *Ledger
	retry      RetryPolicy
	compensate bool
	now        func() time.Time
}

func NewAuthService(idp identity.Provider, profiles repositories.ProfileRepository, issuer *session.Issuer, denylist session.Denylist, ledger *Ledger, retry RetryPolicy, compensate bool) *AuthService {
	return &AuthService{
		idp:        idp,
		profiles:   profiles,
		issuer:     issuer,
		denylist:   denylist,
		ledger:     ledger,
		retry:      retry,
		compensate: compensate,
		now:        time.Now,
	}
}

// SignUp creates the identity and then its profile document. If the profile
// write fails the identity is deleted when compensation is on; otherwise the
// missing profile is recorded and readers fall back to defaults.
func (s *AuthService) SignUp(ctx context.Context, req models.SignUpRequest) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	var id *identity.Identity
	err := Saga{Flow: flowSignUp, Compensate: s.compensate, Retry: s.retry}.Run(ctx,
		Step{
			Name: "create_identity",
			Do: func(ctx context.Context) (err error) {
				id, err = s.idp.SignUp(ctx, email, req.Password, username)
				return err
			},
			Undo: func(ctx context.Context) error { return s.idp.Delete(ctx, id.UID) },
		},
		Step{
			Name: "create_profile",
			Do: func(ctx context.Context) error {
				profile := models.NewProfile(id.UID, username, id.Email, s.now().UTC())
				return s.retry.Create(ctx, "profiles.create", func() error { return s.profiles.CreateProfile(ctx, profile) })
			},
		},
	)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signup", "failure").Inc()
		var partial *PartialFailureError
		if errors.As(err, &partial) && !partial.Compensated {
			s.ledger.Record(ctx, models.Inconsistency{Kind: models.KindProfileMissing, SubjectID: id.UID, Detail: username})
		}
		log.Warn().Err(err).Str("email", email).Msg("Sign-up failed")
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("signup", "success").Inc()
	log.Info().Str("uid", id.UID).Msg("User signed up")
	return s.issue(id)
}

// SignIn authenticates with the provider and issues a session token.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	id, err := s.idp.SignIn(ctx, strings.ToLower(strings.TrimSpace(email)), password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signin", "failure").Inc()
		log.Info().Str("code", identity.CodeOf(err)).Msg("Sign-in rejected")
		return nil, err
	}
	metrics.AuthAttempts.WithLabelValues("signin", "success").Inc()
	log.Info().Str("uid", id.UID).Msg("User signed in")
	return s.issue(id)
}

func (s *AuthService) issue(id *identity.Identity) (*AuthResult, error) {
	token, sess, err := s.issuer.Issue(id.UID, id.Email, id.DisplayName)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Session: sess}, nil
}

// SignOut ends sess: its token is denied until it expires and the provider
// revokes refresh tokens. Failures are logged and returned.
func (s *AuthService) SignOut(ctx context.Context, sess *session.Session) error {
	var errs []error
	if s.denylist != nil {
		if err := s.denylist.Revoke(ctx, sess.TokenID, sess.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.idp.RevokeSessions(ctx, sess.UID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Str("uid", sess.UID).Msg("Sign-out failed")
		return err
	}
	log.Info().Str("uid", sess.UID).Msg("User signed out")
	return nil
}

func (s *AuthService) SendPasswordReset(ctx context.Context, email string) error {
	err := s.idp.SendPasswordReset(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		log.Warn().Err(err).Msg("Password reset request failed")
	}
	return err
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	err := s.idp.ConfirmPasswordReset(ctx, code, newPassword)
	if err != nil {
		log.Warn().Err(err).Msg("Password reset confirmation failed")
	}
	return err
}
