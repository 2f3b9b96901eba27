package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// AuthClient is the subset of the Firebase admin auth client in use.
type AuthClient interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	RevokeRefreshTokens(ctx context.Context, uid string) error
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// PasswordAPI is the password flow of the Identity Toolkit REST API, which the
// admin SDK does not cover.
type PasswordAPI interface {
	VerifyPassword(ctx context.Context, email, password string) (*Identity, error)
	SendPasswordResetEmail(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, newPassword string) error
}

// FirebaseProvider implements Provider with Firebase Authentication.
type FirebaseProvider struct {
	auth      AuthClient
	passwords PasswordAPI
}

func NewFirebaseProvider(client AuthClient, passwords PasswordAPI) *FirebaseProvider {
	return &FirebaseProvider{auth: client, passwords: passwords}
}

// translateAdminError maps admin SDK errors onto provider codes.
func translateAdminError(err error) error {
	switch {
	case err == nil:
		return nil
	case auth.IsEmailAlreadyExists(err):
		return NewError(CodeEmailExists, err)
	case auth.IsUserNotFound(err):
		return NewError(CodeUserNotFound, err)
	case auth.IsIDTokenExpired(err), auth.IsIDTokenInvalid(err), auth.IsIDTokenRevoked(err):
		return NewError(CodeInvalidToken, err)
	case auth.IsUserDisabled(err):
		return NewError(CodeUserDisabled, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password must be"):
		return NewError(CodeWeakPassword, err)
	case strings.Contains(msg, "malformed email"), strings.Contains(msg, "email must be"):
		return NewError(CodeInvalidEmail, err)
	}
	return err
}

func (p *FirebaseProvider) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	params := (&auth.UserToCreate{}).Email(email).Password(password)
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	user, err := p.auth.CreateUser(ctx, params)
	if err != nil {
		return nil, translateAdminError(err)
	}
	return fromUserRecord(user), nil
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	if p.passwords == nil {
		return nil, NewError(CodeNotConfigured, errors.New("firebase api key not configured"))
	}
	return p.passwords.VerifyPassword(ctx, email, password)
}

func (p *FirebaseProvider) GetIdentity(ctx context.Context, uid string) (*Identity, error) {
	user, err := p.auth.GetUser(ctx, uid)
	if err != nil {
		return nil, translateAdminError(err)
	}
	return fromUserRecord(user), nil
}

func (p *FirebaseProvider) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	_, err := p.auth.UpdateUser(ctx, uid, (&auth.UserToUpdate{}).DisplayName(displayName))
	return translateAdminError(err)
}

func (p *FirebaseProvider) Delete(ctx context.Context, uid string) error {
	err := p.auth.DeleteUser(ctx, uid)
	if auth.IsUserNotFound(err) {
		return nil
	}
	return translateAdminError(err)
}

func (p *FirebaseProvider) RevokeSessions(ctx context.Context, uid string) error {
	return translateAdminError(p.auth.RevokeRefreshTokens(ctx, uid))
}

func (p *FirebaseProvider) SendPasswordReset(ctx context.Context, email string) error {
	if p.passwords == nil {
		return NewError(CodeNotConfigured, errors.New("firebase api key not configured"))
	}
	return p.passwords.SendPasswordResetEmail(ctx, email)
}

func (p *FirebaseProvider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if p.passwords == nil {
		return NewError(CodeNotConfigured, errors.New("firebase api key not configured"))
	}
	return p.passwords.ResetPassword(ctx, code, newPassword)
}

// VerifyIDToken accepts ID tokens minted by the Firebase client SDK.
func (p *FirebaseProvider) VerifyIDToken(ctx context.Context, idToken string) (*VerifiedToken, error) {
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, translateAdminError(err)
	}
	id := &VerifiedToken{Identity: Identity{UID: token.UID}, ExpiresAt: time.Unix(token.Expires, 0)}
	if email, ok := token.Claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		id.DisplayName = name
	}
	return id, nil
}

func fromUserRecord(user *auth.UserRecord) *Identity {
	if user == nil || user.UserInfo == nil {
		return &Identity{}
	}
	return &Identity{UID: user.UID, Email: user.Email, DisplayName: user.DisplayName}
}

// ToolkitPasswords implements PasswordAPI on the Identity Toolkit v3 API.
type ToolkitPasswords struct {
	svc *identitytoolkit.Service
}

func NewToolkitPasswords(ctx context.Context, apiKey string, opts ...option.ClientOption) (*ToolkitPasswords, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &ToolkitPasswords{svc: svc}, nil
}

func (t *ToolkitPasswords) VerifyPassword(ctx context.Context, email, password string) (*Identity, error) {
	resp, err := t.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, translateToolkitError(err)
	}
	return &Identity{UID: resp.LocalId, Email: resp.Email, DisplayName: resp.DisplayName}, nil
}

func (t *ToolkitPasswords) SendPasswordResetEmail(ctx context.Context, email string) error {
	_, err := t.svc.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}).Context(ctx).Do()
	return translateToolkitError(err)
}

func (t *ToolkitPasswords) ResetPassword(ctx context.Context, code, newPassword string) error {
	_, err := t.svc.Relyingparty.ResetPassword(&identitytoolkit.IdentitytoolkitRelyingpartyResetPasswordRequest{
		OobCode:     code,
		NewPassword: newPassword,
	}).Context(ctx).Do()
	return translateToolkitError(err)
}

// translateToolkitError extracts the provider code from a REST error. The API
// reports messages such as "WEAK_PASSWORD : Password should be at least 6
// characters".
func translateToolkitError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	code := apiErr.Message
	if before, _, ok := strings.Cut(code, ":"); ok {
		code = before
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return err
	}
	return NewError(code, err)
}
