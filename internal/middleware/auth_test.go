package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/session"
)

func newAuth(t *testing.T) (*session.Authenticator, *session.Issuer, *session.MemoryDenylist) {
	t.Helper()
	issuer := session.NewIssuer("test-secret", time.Hour)
	denylist := session.NewMemoryDenylist()
	t.Cleanup(denylist.Close)
	return session.NewAuthenticator(issuer, nil, denylist), issuer, denylist
}

func whoami(c echo.Context) error {
	s, ok := session.FromContext(c.Request().Context())
	if !ok {
		return c.String(http.StatusOK, "anonymous")
	}
	fromEcho, _ := CurrentSession(c)
	if fromEcho != s {
		return c.String(http.StatusInternalServerError, "mismatch")
	}
	return c.String(http.StatusOK, s.UID)
}

func serve(h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestSessionAuth(t *testing.T) {
	auth, issuer, denylist := newAuth(t)
	h := SessionAuth(auth)(whoami)
	token, issued, err := issuer.Issue("u1", "a@example.com", "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code, "query tokens only on websocket upgrades")

	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	require.NoError(t, denylist.Revoke(req.Context(), issued.TokenID, issued.ExpiresAt))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestOptionalSessionAuth(t *testing.T) {
	auth, issuer, _ := newAuth(t)
	h := OptionalSessionAuth(auth)(whoami)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec = serve(h, req)
	assert.Equal(t, "anonymous", rec.Body.String())

	token, _, err := issuer.Issue("u2", "", "")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = serve(h, req)
	assert.Equal(t, "u2", rec.Body.String())
}
