// Package testutil provides a scriptable fake of the session-intelligence
// backend for package tests: it mints real signed access tokens, rotates
// CSRF tokens, tracks refresh call counts, and can be switched into the
// failure modes the coordinator must handle.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// RefreshCookie is the long-lived credential cookie name.
const RefreshCookie = "refreshToken"

// Backend is an httptest-backed fake auth server.
type Backend struct {
	Server *httptest.Server
	Secret []byte

	mu            sync.Mutex
	user          wire.User
	password      string
	issued        int
	access        []string
	csrf          []string
	valid         map[string]bool
	loginCalls    int
	refreshCalls  int
	dataCalls     int
	refreshDelay  time.Duration
	refreshStatus int    // non-zero forces refresh failures with this status
	refreshCode   string // error code attached to forced refresh failures
	dataStatus    int    // non-zero forces /data failures with this status
	dataCode      string
	suspicious    *wire.Session
	lastCSRFSeen  string
	sessions      []wire.SessionRow
	revoked       []string
}

// NewBackend starts the fake server with one known account.
func NewBackend() *Backend {
	b := &Backend{
		Secret:   []byte("test-signing-secret"),
		user:     wire.User{ID: "u-1", Email: "alice@example.com", Role: wire.RoleUser},
		password: "correct-password-123",
		valid:    map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.handleLogin)
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /auth/logout", b.handleOK)
	mux.HandleFunc("POST /auth/register", b.handleOK)
	mux.HandleFunc("POST /auth/verify-session", b.handleVerify)
	mux.HandleFunc("GET /data", b.handleData)
	mux.HandleFunc("GET /sessions", b.handleSessions)
	mux.HandleFunc("DELETE /sessions/{id}", b.handleRevoke)
	mux.HandleFunc("DELETE /sessions", b.handleOK)
	mux.HandleFunc("GET /admin/sessions", b.handleSessions)
	mux.HandleFunc("DELETE /admin/sessions/{id}", b.handleRevoke)

	b.Server = httptest.NewServer(mux)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// Close shuts the server down.
func (b *Backend) Close() { b.Server.Close() }

// --- scripting knobs ---

// SetSuspicious makes subsequent login/refresh responses carry this verdict.
func (b *Backend) SetSuspicious(sess *wire.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suspicious = sess
}

// FailRefresh forces refresh calls to fail with status and optional code.
func (b *Backend) FailRefresh(status int, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
	b.refreshCode = code
}

// FailData forces /data calls to fail with status and optional code,
// regardless of the token presented.
func (b *Backend) FailData(status int, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dataStatus = status
	b.dataCode = code
}

// SetRefreshDelay stalls the refresh handler, letting tests pile concurrent
// callers onto one in-flight refresh.
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// ExpireAll invalidates every issued access token; the next authenticated
// call gets a 401.
func (b *Backend) ExpireAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token := range b.valid {
		b.valid[token] = false
	}
}

// SetSessions seeds the session listing.
func (b *Backend) SetSessions(rows []wire.SessionRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = rows
}

// --- observations ---

func (b *Backend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func (b *Backend) DataCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataCalls
}

// AccessTokenAt returns the nth issued access token (0-based).
func (b *Backend) AccessTokenAt(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access[n]
}

// CSRFTokenAt returns the nth issued CSRF token (0-based).
func (b *Backend) CSRFTokenAt(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.csrf[n]
}

// LastCSRFSeen returns the CSRF header value of the latest refresh call.
func (b *Backend) LastCSRFSeen() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCSRFSeen
}

// Revoked returns the session ids deleted so far.
func (b *Backend) Revoked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.revoked))
	copy(out, b.revoked)
	return out
}

// --- handlers ---

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loginCalls++
	b.mu.Unlock()

	var req wire.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed login body")
		return
	}
	if req.Email != b.user.Email || req.Password != b.password {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: uuid.NewString(), Path: "/", HttpOnly: true})
	b.writeAuthPayload(w)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.refreshCalls++
	b.lastCSRFSeen = r.Header.Get("X-CSRF-Token")
	delay := b.refreshDelay
	status, code := b.refreshStatus, b.refreshCode
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeError(w, status, code, "refresh rejected")
		return
	}
	if _, err := r.Cookie(RefreshCookie); err != nil {
		writeError(w, http.StatusUnauthorized, "NO_REFRESH_TOKEN", "missing refresh cookie")
		return
	}
	b.writeAuthPayload(w)
}

func (b *Backend) handleData(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.dataCalls++
	status, code := b.dataStatus, b.dataCode
	token, ok := bearer(r)
	live := ok && b.valid[token]
	b.mu.Unlock()

	if status != 0 {
		writeError(w, status, code, "forced failure")
		return
	}
	if !live {
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"ok":true}`)
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req wire.VerifySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "sessionId required")
		return
	}
	b.mu.Lock()
	if b.suspicious != nil && b.suspicious.ID == req.SessionID {
		b.suspicious = nil
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handleSessions(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	list := wire.SessionList{Sessions: b.sessions}
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (b *Backend) handleRevoke(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.revoked = append(b.revoked, r.PathValue("id"))
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handleOK(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// writeAuthPayload mints the next token pair and responds with the full
// login/refresh body.
func (b *Backend) writeAuthPayload(w http.ResponseWriter) {
	b.mu.Lock()
	b.issued++
	access := b.mintLocked()
	csrf := fmt.Sprintf("C%d", b.issued)
	b.access = append(b.access, access)
	b.csrf = append(b.csrf, csrf)
	b.valid[access] = true
	payload := wire.AuthPayload{
		User:        &b.user,
		AccessToken: access,
		CSRFToken:   csrf,
		Session:     b.suspicious,
	}
	if payload.Session == nil {
		payload.Session = &wire.Session{ID: "s-1", IsSuspicious: false}
	} else {
		payload.RequiresVerification = payload.Session.IsSuspicious
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (b *Backend) mintLocked() string {
	claims := jwt.RegisteredClaims{
		Subject:   b.user.ID,
		ID:        fmt.Sprintf("T%d", b.issued),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.Secret)
	if err != nil {
		panic(fmt.Sprintf("mint access token: %v", err))
	}
	return token
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wire.ErrorEnvelope{Error: &wire.ErrorBody{Code: code, Message: message}})
}
