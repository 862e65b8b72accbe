// Package transport implements the outbound request pipeline and the
// single-flight refresh coordinator. Every data-plane call the SDK makes
// goes through Pipeline, which attaches credentials on the way out and heals
// authentication failures on the way back; Coordinator guarantees at most
// one token refresh is ever in flight.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rutvikpatel14/session-intelligence-go/credentials"
	"github.com/rutvikpatel14/session-intelligence-go/gate"
	"github.com/rutvikpatel14/session-intelligence-go/metrics"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// Headers the pipeline manages on outbound requests.
const (
	HeaderCSRF      = "X-CSRF-Token"
	HeaderRequestID = "X-Request-ID"
)

// loginSuffix marks the one call the pipeline never heals: a 401 from the
// login endpoint means bad credentials, not an expired token.
const loginSuffix = "/auth/login"

// maxErrorBody bounds how much of a failure response is buffered while the
// pipeline inspects the error envelope.
const maxErrorBody = 1 << 20

// Refresher renews the token pair. Implemented by Coordinator; an interface
// so pipeline behavior is testable without network refresh wiring.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Pipeline is an http.RoundTripper that transparently authenticates and
// heals every outbound call:
//
//   - outbound: bearer header when an access token is held, CSRF header on
//     state-mutating verbs when a CSRF token is held, request id always
//   - 403 with a recognized security code: hard logout, never retried
//   - 401 on a not-yet-retried, non-login request: one refresh, one replay
//   - anything else: propagated unchanged
//
// The retry flag travels on the request context, so no request instance is
// ever replayed more than once regardless of how many are in flight.
type Pipeline struct {
	next      http.RoundTripper
	store     *credentials.Store
	gate      *gate.Gate
	refresher Refresher
	metrics   *metrics.Metrics
	log       *slog.Logger
	tracer    trace.Tracer

	// onSecurityViolation fires after a hard logout with the server code.
	onSecurityViolation func(code string)
}

// PipelineConfig wires a Pipeline. Next defaults to http.DefaultTransport.
type PipelineConfig struct {
	Next                http.RoundTripper
	Store               *credentials.Store
	Gate                *gate.Gate
	Refresher           Refresher
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
	OnSecurityViolation func(code string)
}

// NewPipeline builds a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	next := cfg.Next
	if next == nil {
		next = http.DefaultTransport
	}
	return &Pipeline{
		next:                next,
		store:               cfg.Store,
		gate:                cfg.Gate,
		refresher:           cfg.Refresher,
		metrics:             cfg.Metrics,
		log:                 cfg.Logger,
		tracer:              otel.Tracer("sessionintel/transport"),
		onSecurityViolation: cfg.OnSecurityViolation,
	}
}

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func wasRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// RoundTrip implements http.RoundTripper.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := p.tracer.Start(req.Context(), "sessionintel.request",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		))
	defer span.End()

	out := req.Clone(ctx)
	p.attach(out)

	resp, err := p.next.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return p.handleForbidden(out, resp, span)
	case resp.StatusCode == http.StatusUnauthorized:
		return p.handleUnauthorized(ctx, req, out, resp, span)
	}
	return resp, nil
}

// attach performs the outbound stage. Requests with no stored token go out
// unauthenticated; the server decides.
func (p *Pipeline) attach(req *http.Request) {
	token, csrf := p.store.Pair()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" && isMutating(req.Method) {
		req.Header.Set(HeaderCSRF, csrf)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
}

// handleForbidden inspects the error envelope for server-signaled security
// violations. Those force a hard logout and are never retried; the original
// failure still propagates to the caller with its body intact.
func (p *Pipeline) handleForbidden(req *http.Request, resp *http.Response, span trace.Span) (*http.Response, error) {
	body, ok := rebuffer(resp)
	if !ok {
		return resp, nil
	}
	code := envelopeCode(body)
	if !wire.IsSecurityCode(code) {
		return resp, nil
	}

	span.SetAttributes(attribute.String("auth.violation", code))
	p.log.Warn("security violation reported by server, forcing logout",
		"code", code, "method", req.Method, "path", req.URL.Path)
	p.hardLogout(code)
	return resp, nil
}

// handleUnauthorized recovers an expired access token: one refresh, one
// replay with the new credentials. Requests already retried, login calls,
// and requests whose body cannot be replayed all propagate unchanged. A
// failed refresh also propagates the original 401; the coordinator has
// already torn the session down at that point.
func (p *Pipeline) handleUnauthorized(ctx context.Context, orig, sent *http.Request, resp *http.Response, span trace.Span) (*http.Response, error) {
	if wasRetried(ctx) || strings.HasSuffix(sent.URL.Path, loginSuffix) {
		return resp, nil
	}
	if orig.Body != nil && orig.GetBody == nil {
		p.log.Warn("cannot replay request without rewindable body", "method", orig.Method, "path", orig.URL.Path)
		return resp, nil
	}

	// Buffer the failure response first so it survives if refresh fails.
	rebuffer(resp)

	token, err := p.refresher.Refresh(ctx)
	if err != nil || token == "" {
		return resp, nil
	}

	retry := orig.Clone(markRetried(ctx))
	if orig.GetBody != nil {
		body, err := orig.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	p.metrics.RetriesTotal.Inc()
	span.SetAttributes(attribute.Bool("auth.retried", true))
	return p.RoundTrip(retry)
}

// hardLogout clears all local auth state. Late-arriving results from any
// in-flight refresh are discarded by construction: subsequent reads see the
// cleared store.
func (p *Pipeline) hardLogout(code string) {
	p.store.Clear()
	p.gate.Clear()
	p.metrics.HardLogoutTotal.WithLabelValues(code).Inc()
	if p.onSecurityViolation != nil {
		p.onSecurityViolation(code)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// rebuffer reads a failure response body into memory and replaces it with a
// rewindable copy so the envelope can be inspected here and still read by
// the caller.
func rebuffer(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	return body, true
}

func envelopeCode(body []byte) string {
	var env wire.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return ""
	}
	return env.Error.Code
}
