package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rutvikpatel14/session-intelligence-go/apierr"
	"github.com/rutvikpatel14/session-intelligence-go/credentials"
	"github.com/rutvikpatel14/session-intelligence-go/gate"
	"github.com/rutvikpatel14/session-intelligence-go/internal/rest"
	"github.com/rutvikpatel14/session-intelligence-go/metrics"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// refreshKey is the lone singleflight key: one refresh system-wide.
const refreshKey = "refresh"

// SessionEndReason values passed to the session-end hook when the
// coordinator tears the local session down.
const (
	ReasonRefreshFailed = "refresh_failed"
)

// Coordinator performs single-flight token renewal. However many callers
// observe an expired token concurrently, exactly one POST /auth/refresh is
// outstanding at a time; every concurrent caller receives the same outcome,
// and the credential store and verification gate are fully updated before
// any waiter resumes.
type Coordinator struct {
	base    *url.URL
	hc      *http.Client
	store   *credentials.Store
	gate    *gate.Gate
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer

	group singleflight.Group

	// onAuthEvent fires after a successful refresh with the decoded payload.
	// onSessionEnd fires after a failed refresh, once state is cleared.
	onAuthEvent  func(*wire.AuthPayload)
	onSessionEnd func(reason string)
}

// CoordinatorConfig wires a Coordinator. HTTPClient must be the bare client
// carrying the long-lived refresh cookie jar, never the pipeline-wrapped
// one: a refresh call that re-entered the pipeline could recurse into
// another refresh.
type CoordinatorConfig struct {
	BaseURL      *url.URL
	HTTPClient   *http.Client
	Store        *credentials.Store
	Gate         *gate.Gate
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	OnAuthEvent  func(*wire.AuthPayload)
	OnSessionEnd func(reason string)
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		base:         cfg.BaseURL,
		hc:           cfg.HTTPClient,
		store:        cfg.Store,
		gate:         cfg.Gate,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		tracer:       otel.Tracer("sessionintel/transport"),
		onAuthEvent:  cfg.OnAuthEvent,
		onSessionEnd: cfg.OnSessionEnd,
	}
}

// Refresh renews the access/CSRF token pair, deduplicating concurrent
// callers onto one in-flight network call. On success it returns the new
// access token. On failure it clears all local auth state, signals the
// session-end hook, and every waiter receives the identical error; callers
// must not retry.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	result, err, shared := c.group.Do(refreshKey, func() (any, error) {
		// The issuing caller's context must not cancel the refresh out from
		// under the queued waiters.
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug("joined in-flight refresh")
	}
	return result.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	payload, err := c.call(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		c.metrics.RefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		c.fail(err)
		return "", fmt.Errorf("refresh session: %w", errors.Join(err, apierr.ErrSessionEnded))
	}

	c.store.SetPair(payload.AccessToken, payload.CSRFToken)
	if payload.User != nil {
		c.store.SetUser(payload.User)
	}
	c.gate.Apply(payload.Session)

	c.metrics.RefreshTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	span.SetAttributes(attribute.Bool("session.suspicious", payload.Session != nil && payload.Session.IsSuspicious))
	c.log.Debug("access token refreshed")

	if c.onAuthEvent != nil {
		c.onAuthEvent(payload)
	}
	return payload.AccessToken, nil
}

func (c *Coordinator) call(ctx context.Context) (*wire.AuthPayload, error) {
	u := c.base.JoinPath("auth", "refresh").String()
	var payload wire.AuthPayload
	if err := rest.DoWithHeaders(ctx, c.hc, http.MethodPost, u, struct{}{}, c.refreshHeaders(), &payload); err != nil {
		return nil, err
	}
	if payload.AccessToken == "" || payload.CSRFToken == "" {
		return nil, fmt.Errorf("refresh response missing token pair")
	}
	return &payload, nil
}

func (c *Coordinator) refreshHeaders() http.Header {
	h := http.Header{}
	if csrf := c.store.CSRFToken(); csrf != "" {
		h.Set(HeaderCSRF, csrf)
	}
	return h
}

// fail clears local auth state so every later read observes an
// unauthenticated session, then signals the application shell. A refresh
// rejected with a security code reports that code as the reason.
func (c *Coordinator) fail(err error) {
	c.store.Clear()
	c.gate.Clear()

	reason := ReasonRefreshFailed
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && wire.IsSecurityCode(apiErr.Code) {
		reason = apiErr.Code
	}
	c.metrics.HardLogoutTotal.WithLabelValues(reason).Inc()
	c.log.Warn("refresh failed, session ended", "reason", reason, "error", err)

	if c.onSessionEnd != nil {
		c.onSessionEnd(reason)
	}
}
