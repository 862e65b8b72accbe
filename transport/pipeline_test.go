package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutvikpatel14/session-intelligence-go/credentials"
	"github.com/rutvikpatel14/session-intelligence-go/gate"
	"github.com/rutvikpatel14/session-intelligence-go/metrics"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// fakeRefresher stands in for the coordinator: it rotates the store to the
// configured pair, or clears it on failure, exactly as the real one does.
type fakeRefresher struct {
	store *credentials.Store
	token string
	csrf  string
	err   error
	calls atomic.Int32
}

func (f *fakeRefresher) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		f.store.Clear()
		return "", f.err
	}
	f.store.SetPair(f.token, f.csrf)
	return f.token, nil
}

type pipelineFixture struct {
	store     *credentials.Store
	gate      *gate.Gate
	refresher *fakeRefresher
	client    *http.Client
	server    *httptest.Server
	violation string
}

func newPipelineFixture(t *testing.T, handler http.HandlerFunc) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store: credentials.New(),
		gate:  gate.New(),
	}
	f.refresher = &fakeRefresher{store: f.store, token: "T2", csrf: "C2"}
	f.server = httptest.NewServer(handler)
	t.Cleanup(f.server.Close)

	pipeline := NewPipeline(PipelineConfig{
		Store:     f.store,
		Gate:      f.gate,
		Refresher: f.refresher,
		Metrics:   metrics.New(nil),
		Logger:    slog.New(slog.DiscardHandler),
		OnSecurityViolation: func(code string) {
			f.violation = code
		},
	})
	f.client = &http.Client{Transport: pipeline}
	return f
}

func writeEnvelope(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wire.ErrorEnvelope{Error: &wire.ErrorBody{Code: code, Message: "denied"}})
}

func TestPipeline_OutboundAttachesCredentials(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]http.Header{}
	f := newPipelineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Method] = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	f.store.SetPair("T1", "C1")

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		req, err := http.NewRequest(method, f.server.URL+"/data", nil)
		require.NoError(t, err)
		resp, err := f.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer T1", seen[http.MethodGet].Get("Authorization"))
	assert.Empty(t, seen[http.MethodGet].Get(HeaderCSRF), "GET must not carry the anti-forgery header")
	assert.Equal(t, "C1", seen[http.MethodPost].Get(HeaderCSRF))
	assert.Equal(t, "C1", seen[http.MethodDelete].Get(HeaderCSRF))
	assert.NotEmpty(t, seen[http.MethodGet].Get(HeaderRequestID))
}

func TestPipeline_NoTokenGoesOutUnauthenticated(t *testing.T) {
	var sawAuth atomic.Bool
	f := newPipelineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization") != "")
		w.WriteHeader(http.StatusOK)
	})

	resp, err := f.client.Get(f.server.URL + "/public")
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, sawAuth.Load())
}

func TestPipeline_HealsExpiredToken(t *testing.T) {
	var hits atomic.Int32
	f := newPipelineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer T2" {
			writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	f.store.SetPair("T1", "C1")

	resp, err := f.client.Get(f.server.URL + "/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), f.refresher.calls.Load(), "one 401 means one refresh")
	assert.Equal(t, int32(2), hits.Load(), "original plus exactly one replay")
	access, csrf := f.store.Pair()
	assert.Equal(t, "T2", access)
	assert.Equal(t, "C2", csrf)
}

func TestPipeline_ReplayCarriesRotatedCSRF(t *testing.T) {
	var lastCSRF atomic.Value
	f := newPipelineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T2" {
			writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
			return
		}
		lastCSRF.Store(r.Header.Get(HeaderCSRF))
		w.WriteHeader(http.StatusOK)
	})
	f.store.SetPair("T1", "C1")

	body := bytes.NewReader([]byte(`{"sessionId":"s1"}`))
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/auth/verify-session", body)
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "C2", lastCSRF.Load())
}

func TestPipeline_RetriesAtMostOnce(t *testing.T) {
	var hits atomic.Int32
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
	})
	f.store.SetPair("T1", "C1")

	resp, err := f.client.Get(f.server.URL + "/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, int32(2), hits.Load(), "a retry that fails again is not retried")

	// The propagated failure body must still be readable by the caller.
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "TOKEN_EXPIRED")
}

func TestPipeline_LoginIsNeverHealed(t *testing.T) {
	var hits atomic.Int32
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	})

	resp, err := f.client.Post(f.server.URL+"/auth/login", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.refresher.calls.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestPipeline_SecurityCodeForcesHardLogout(t *testing.T) {
	var hits atomic.Int32
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusForbidden, wire.CodeRefreshTokenReuse)
	})
	f.store.SetPair("T1", "C1")
	f.gate.Apply(&wire.Session{ID: "s9", IsSuspicious: true})

	resp, err := f.client.Get(f.server.URL + "/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "security failures are never retried")
	assert.Zero(t, f.refresher.calls.Load())

	access, csrf := f.store.Pair()
	assert.Empty(t, access)
	assert.Empty(t, csrf)
	assert.False(t, f.gate.RequiresVerification())
	assert.Equal(t, wire.CodeRefreshTokenReuse, f.violation)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), wire.CodeRefreshTokenReuse)
}

func TestPipeline_OrdinaryForbiddenPassesThrough(t *testing.T) {
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusForbidden, "INSUFFICIENT_ROLE")
	})
	f.store.SetPair("T1", "C1")

	resp, err := f.client.Get(f.server.URL + "/admin/sessions")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "T1", f.store.AccessToken(), "non-security 403 leaves credentials alone")
	assert.Empty(t, f.violation)
}

func TestPipeline_RefreshFailurePropagatesOriginal(t *testing.T) {
	var hits atomic.Int32
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
	})
	f.store.SetPair("T1", "C1")
	f.refresher.err = errors.New("refresh rejected")

	resp, err := f.client.Get(f.server.URL + "/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), f.refresher.calls.Load())

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "TOKEN_EXPIRED")
}

func TestPipeline_NonReplayableBodyIsNotRetried(t *testing.T) {
	f := newPipelineFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
	})
	f.store.SetPair("T1", "C1")

	// A plain io.Reader gives the request no GetBody, so the body cannot be
	// rewound for a replay.
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/data", struct{ io.Reader }{strings.NewReader("{}")})
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.refresher.calls.Load())
}
