package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessionintel "github.com/rutvikpatel14/session-intelligence-go"
	"github.com/rutvikpatel14/session-intelligence-go/internal/testutil"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

const chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type shellFixture struct {
	backend *testutil.Backend
	shell   *httptest.Server
	browser *http.Client
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	f := &shellFixture{backend: testutil.NewBackend()}
	t.Cleanup(f.backend.Close)

	registry := prometheus.NewRegistry()
	client, err := sessionintel.New(sessionintel.Options{
		BaseURL:      f.backend.URL(),
		Logger:       slog.New(slog.DiscardHandler),
		Registry:     registry,
		PollInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	handler := New(client, registry, slog.New(slog.DiscardHandler))
	f.shell = httptest.NewServer(handler.Router())
	t.Cleanup(f.shell.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	f.browser = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *shellFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, f.shell.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("User-Agent", chromeUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.browser.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *shellFixture) login(t *testing.T) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandler_LoginSetsShellCookie(t *testing.T) {
	f := newShellFixture(t)

	resp := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[loginResponse](t, resp)
	require.NotNil(t, body.User)
	assert.Equal(t, "alice@example.com", body.User.Email)
	assert.False(t, body.RequiresVerification)

	var found bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			found = true
		}
	}
	assert.True(t, found, "login must set the shell session cookie")
}

func TestHandler_LoginFailureSurfacesServerMessage(t *testing.T) {
	f := newShellFixture(t)

	resp := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decode[wire.ErrorEnvelope](t, resp)
	require.NotNil(t, body.Error)
	assert.Equal(t, "Invalid email or password", body.Error.Message)
}

func TestHandler_MeReflectsLifecycle(t *testing.T) {
	f := newShellFixture(t)

	before := decode[meResponse](t, f.do(t, http.MethodGet, "/me", nil))
	assert.False(t, before.Authenticated)
	assert.Nil(t, before.User)

	f.login(t)

	after := decode[meResponse](t, f.do(t, http.MethodGet, "/me", nil))
	assert.True(t, after.Authenticated)
	require.NotNil(t, after.User)
	assert.Equal(t, "u-1", after.User.ID)
	require.NotNil(t, after.TokenExpiresAt)
}

func TestHandler_SessionsRequireShellCookie(t *testing.T) {
	f := newShellFixture(t)

	resp := f.do(t, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?from=%2Fsessions", resp.Header.Get("Location"))
}

func TestHandler_SessionListAndRevoke(t *testing.T) {
	f := newShellFixture(t)
	f.backend.SetSessions([]wire.SessionRow{
		{ID: "s-1", DeviceName: "Chrome on macOS"},
		{ID: "s-2", DeviceName: "Firefox on Linux"},
	})
	f.login(t)

	list := decode[wire.SessionList](t, f.do(t, http.MethodGet, "/sessions", nil))
	require.Len(t, list.Sessions, 2)

	resp := f.do(t, http.MethodDelete, "/sessions/s-2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"s-2"}, f.backend.Revoked())
}

func TestHandler_SuspiciousLoginVerificationFlow(t *testing.T) {
	f := newShellFixture(t)
	f.backend.SetSuspicious(&wire.Session{ID: "s9", IsSuspicious: true})

	resp := f.do(t, http.MethodPost, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[loginResponse](t, resp)
	assert.True(t, body.RequiresVerification)
	assert.Equal(t, "s9", body.SuspiciousSessionID)

	verify := f.do(t, http.MethodPost, "/auth/verify-session", wire.VerifySessionRequest{SessionID: "s9"})
	require.Equal(t, http.StatusNoContent, verify.StatusCode)

	me := decode[meResponse](t, f.do(t, http.MethodGet, "/me", nil))
	assert.False(t, me.RequiresVerification)
}

func TestHandler_LogoutClearsCookieAndState(t *testing.T) {
	f := newShellFixture(t)
	f.login(t)

	resp := f.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var cleared bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must expire the shell session cookie")

	me := decode[meResponse](t, f.do(t, http.MethodGet, "/me", nil))
	assert.False(t, me.Authenticated)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	f := newShellFixture(t)

	health := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metrics := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.StatusCode)
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sessionintel_request_retries_total")
}
