package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
)

// ErrRevoked is returned for a token that was signed out.
var ErrRevoked = errors.New("session has been signed out")

// Authenticator turns a bearer token into a Session. It accepts session
// tokens from Issuer and, when a verifier is set, provider ID tokens.
type Authenticator struct {
	issuer   *Issuer
	verifier identity.TokenVerifier
	denylist Denylist
}

func NewAuthenticator(issuer *Issuer, verifier identity.TokenVerifier, denylist Denylist) *Authenticator {
	return &Authenticator{issuer: issuer, verifier: verifier, denylist: denylist}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Session, error) {
	s, err := a.issuer.Parse(token)
	if err != nil {
		if a.verifier == nil {
			return nil, err
		}
		verified, verr := a.verifier.VerifyIDToken(ctx, token)
		if verr != nil {
			return nil, ErrInvalidToken
		}
		s = &Session{
			UID:         verified.UID,
			Email:       verified.Email,
			DisplayName: verified.DisplayName,
			TokenID:     ProviderTokenID(token),
			ExpiresAt:   verified.ExpiresAt,
		}
	}

	if a.denylist != nil {
		revoked, err := a.denylist.IsRevoked(ctx, s.TokenID)
		if err != nil {
			return nil, fmt.Errorf("checking session denylist: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return s, nil
}

// ProviderTokenID derives a stable denylist key for a provider ID token,
// which carries no token ID of its own.
func ProviderTokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "idt_" + hex.EncodeToString(sum[:16])
}
