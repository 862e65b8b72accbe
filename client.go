package sessionintel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rutvikpatel14/session-intelligence-go/audit"
	"github.com/rutvikpatel14/session-intelligence-go/credentials"
	"github.com/rutvikpatel14/session-intelligence-go/gate"
	"github.com/rutvikpatel14/session-intelligence-go/internal/rest"
	"github.com/rutvikpatel14/session-intelligence-go/metrics"
	"github.com/rutvikpatel14/session-intelligence-go/sessions"
	"github.com/rutvikpatel14/session-intelligence-go/transport"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// Client is the session lifecycle facade: the only thing UI collaborators
// talk to. It composes the credential store, the request pipeline, the
// refresh coordinator, the verification gate, and the background poller, and
// guarantees their ordering invariants hold across concurrent use.
type Client struct {
	base  *url.URL
	store *credentials.Store
	gate  *gate.Gate
	coord *transport.Coordinator

	// hc goes through the pipeline (bearer, CSRF, heal-on-401); raw is the
	// bare client used for login, register, and the refresh call itself.
	// Both share one cookie jar carrying the long-lived refresh cookie.
	hc  *http.Client
	raw *http.Client

	sessions *sessions.Service
	metrics  *metrics.Metrics
	audit    *audit.Publisher
	log      *slog.Logger
	poller   *poller

	authenticated atomic.Bool
	onSessionEnd  func(reason string)
}

// New builds a Client. The returned client is unauthenticated; call
// Bootstrap to recover a persisted session or Login to start a new one.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}

	c := &Client{
		base:         base,
		store:        credentials.New(),
		gate:         gate.New(),
		metrics:      metrics.New(opts.Registry),
		audit:        opts.Audit,
		log:          opts.Logger,
		onSessionEnd: opts.OnSessionEnd,
	}

	c.raw = &http.Client{Jar: jar}
	c.coord = transport.NewCoordinator(transport.CoordinatorConfig{
		BaseURL:      base,
		HTTPClient:   c.raw,
		Store:        c.store,
		Gate:         c.gate,
		Metrics:      c.metrics,
		Logger:       c.log,
		OnAuthEvent:  c.authEvent,
		OnSessionEnd: c.sessionEnded,
	})

	pipeline := transport.NewPipeline(transport.PipelineConfig{
		Store:               c.store,
		Gate:                c.gate,
		Refresher:           c.coord,
		Metrics:             c.metrics,
		Logger:              c.log,
		OnSecurityViolation: c.securityViolation,
	})
	c.hc = &http.Client{Transport: pipeline, Jar: jar}

	c.sessions = sessions.New(base, c.hc, c.gate, c.audit, c.log)
	c.poller = newPoller(opts.PollInterval, c.log, c.metrics, func(ctx context.Context) error {
		_, err := c.coord.Refresh(ctx)
		return err
	})

	return c, nil
}

// Bootstrap attempts one silent refresh to recover an existing session from
// the persisted long-lived cookie. It reports whether a session was
// recovered; failure is not an error. The user simply stays
// unauthenticated and no session-end signal fires.
func (c *Client) Bootstrap(ctx context.Context) bool {
	if _, err := c.coord.Refresh(ctx); err != nil {
		c.log.Debug("bootstrap refresh failed, staying unauthenticated", "error", err)
		return false
	}
	c.authenticated.Store(true)
	c.poller.start()
	return true
}

// Login authenticates with the backend and starts a new session. On success
// the credential store, user snapshot, and verification gate are populated
// from the response and the background poller starts. On failure local state
// is untouched and the returned error carries the server's message for
// display (see apierr.Message).
func (c *Client) Login(ctx context.Context, email, password, deviceLabel string) (*wire.User, error) {
	u := c.base.JoinPath("auth", "login").String()
	req := wire.LoginRequest{Email: email, Password: password, DeviceName: deviceLabel}

	var payload wire.AuthPayload
	if err := rest.Do(ctx, c.raw, http.MethodPost, u, req, &payload); err != nil {
		c.emit(ctx, audit.Event{Action: audit.ActionLoginFailed, Email: email})
		return nil, fmt.Errorf("login: %w", err)
	}

	c.store.SetPair(payload.AccessToken, payload.CSRFToken)
	c.store.SetUser(payload.User)
	c.gate.Apply(payload.Session)
	c.authenticated.Store(true)
	c.poller.start()

	c.emit(ctx, audit.Event{Action: audit.ActionLoggedIn, Email: email, SessionID: sessionID(payload.Session)})
	if c.gate.RequiresVerification() {
		c.log.Warn("session flagged as suspicious, verification required",
			"session_id", c.gate.SuspiciousSessionID())
		c.emit(ctx, audit.Event{Action: audit.ActionSessionFlagged, SessionID: c.gate.SuspiciousSessionID()})
	}
	return c.store.User(), nil
}

// Register creates an account. It does not authenticate; callers sign in
// afterwards.
func (c *Client) Register(ctx context.Context, email, password string) error {
	u := c.base.JoinPath("auth", "register").String()
	if err := rest.Do(ctx, c.raw, http.MethodPost, u, wire.RegisterRequest{Email: email, Password: password}, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.emit(ctx, audit.Event{Action: audit.ActionRegistered, Email: email})
	return nil
}

// Logout notifies the server best-effort, then unconditionally clears all
// local state and stops the poller. Calling it while already
// unauthenticated is a no-op that still leaves the store empty.
func (c *Client) Logout(ctx context.Context) {
	u := c.base.JoinPath("auth", "logout").String()
	if err := rest.Do(ctx, c.hc, http.MethodPost, u, struct{}{}, nil); err != nil {
		c.log.Debug("server logout failed, clearing local state anyway", "error", err)
	}

	c.poller.stop()
	c.store.Clear()
	c.gate.Clear()
	c.authenticated.Store(false)
	c.emit(ctx, audit.Event{Action: audit.ActionLoggedOut})
}

// VerifySession asks the server to clear the suspicion flag on sessionID and
// returns the gate to normal on success.
func (c *Client) VerifySession(ctx context.Context, sessionID string) error {
	u := c.base.JoinPath("auth", "verify-session").String()
	if err := rest.Do(ctx, c.hc, http.MethodPost, u, wire.VerifySessionRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	c.gate.Clear()
	c.emit(ctx, audit.Event{Action: audit.ActionSessionVerified, SessionID: sessionID})
	return nil
}

// MarkVerified clears the verification gate locally. Used when verification
// was achieved through another path, such as revoking the flagged session.
func (c *Client) MarkVerified() {
	c.gate.Clear()
}

// CurrentUser returns the identity snapshot from the most recent
// authentication event, or nil when unauthenticated.
func (c *Client) CurrentUser() *wire.User {
	return c.store.User()
}

// GateState returns the verification gate snapshot the UI renders.
func (c *Client) GateState() gate.Snapshot {
	return c.gate.Snapshot()
}

// Authenticated reports whether a session is currently considered active.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// Sessions returns the session listing/termination service.
func (c *Client) Sessions() *sessions.Service {
	return c.sessions
}

// HTTPClient exposes the pipeline-wrapped client so collaborators can make
// further authenticated calls with the same healing behavior.
func (c *Client) HTTPClient() *http.Client {
	return c.hc
}

// AccessTokenExpiry reports when the current access token lapses, for
// display only. Returns an error when unauthenticated.
func (c *Client) AccessTokenExpiry() (time.Time, error) {
	token := c.store.AccessToken()
	if token == "" {
		return time.Time{}, fmt.Errorf("no access token held")
	}
	return wire.TokenExpiry(token)
}

// Close stops background work. The client stays usable for a fresh Login.
func (c *Client) Close() {
	c.poller.stop()
}

// sessionEnded handles coordinator-driven teardown: refresh failure at any
// call site, including poll ticks. State is already cleared; this only
// transitions the authenticated flag, stops the poller, and signals the
// shell. It fires at most once per session, so a bootstrap failure on an already
// unauthenticated client stays silent.
func (c *Client) sessionEnded(reason string) {
	if !c.authenticated.CompareAndSwap(true, false) {
		return
	}
	c.poller.stop()
	c.emit(context.Background(), audit.Event{Action: audit.ActionSessionEnded, Reason: reason})
	if c.onSessionEnd != nil {
		c.onSessionEnd(reason)
	}
}

// securityViolation handles pipeline-detected security codes. The pipeline
// has already wiped local state; record the event, then finish the teardown.
func (c *Client) securityViolation(code string) {
	c.emit(context.Background(), audit.Event{Action: audit.ActionSecurityViolation, Reason: code})
	if c.authenticated.CompareAndSwap(true, false) {
		c.poller.stop()
		if c.onSessionEnd != nil {
			c.onSessionEnd(code)
		}
	}
}

// authEvent records successful refreshes, covering both healed requests and
// poll ticks.
func (c *Client) authEvent(payload *wire.AuthPayload) {
	c.emit(context.Background(), audit.Event{Action: audit.ActionTokenRefreshed, SessionID: sessionID(payload.Session)})
	if payload.Session != nil && payload.Session.IsSuspicious {
		c.emit(context.Background(), audit.Event{Action: audit.ActionSessionFlagged, SessionID: payload.Session.ID})
	}
}

func (c *Client) emit(ctx context.Context, event audit.Event) {
	if c.audit == nil {
		return
	}
	if user := c.store.User(); user != nil {
		if event.UserID == "" {
			event.UserID = user.ID
		}
		if event.Email == "" {
			event.Email = user.Email
		}
	}
	_ = c.audit.Emit(ctx, event)
}

func sessionID(sess *wire.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
