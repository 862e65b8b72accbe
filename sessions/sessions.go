// Package sessions is the data plane behind the session list and admin
// views: listing, revoking, and force-terminating sessions. It rides the
// authenticated pipeline client, so expired tokens heal transparently and
// security violations tear the session down before any row is returned.
package sessions

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rutvikpatel14/session-intelligence-go/audit"
	"github.com/rutvikpatel14/session-intelligence-go/gate"
	"github.com/rutvikpatel14/session-intelligence-go/internal/rest"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// Service exposes the caller's own sessions plus the privileged admin
// listing. Whether the caller may use the admin operations is the server's
// decision; the service just surfaces the response.
type Service struct {
	base  *url.URL
	hc    *http.Client
	gate  *gate.Gate
	audit *audit.Publisher
	log   *slog.Logger
}

// New builds a Service on the pipeline-wrapped client.
func New(base *url.URL, hc *http.Client, g *gate.Gate, pub *audit.Publisher, log *slog.Logger) *Service {
	return &Service{base: base, hc: hc, gate: g, audit: pub, log: log}
}

// List returns the caller's active sessions.
func (s *Service) List(ctx context.Context) ([]wire.SessionRow, error) {
	var list wire.SessionList
	u := s.base.JoinPath("sessions").String()
	if err := rest.Do(ctx, s.hc, http.MethodGet, u, nil, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// Revoke terminates one of the caller's sessions. Revoking the session the
// verification gate is pending on resolves the gate: the flagged session no
// longer exists.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	u := s.base.JoinPath("sessions", sessionID).String()
	if err := rest.Do(ctx, s.hc, http.MethodDelete, u, nil, nil); err != nil {
		return err
	}
	if s.gate.SuspiciousSessionID() == sessionID {
		s.gate.Clear()
	}
	s.emit(ctx, audit.ActionSessionRevoked, sessionID)
	return nil
}

// RevokeAll terminates every session of the caller, current one included.
// The gate clears unconditionally; whatever was flagged is gone.
func (s *Service) RevokeAll(ctx context.Context) error {
	u := s.base.JoinPath("sessions").String()
	if err := rest.Do(ctx, s.hc, http.MethodDelete, u, nil, nil); err != nil {
		return err
	}
	s.gate.Clear()
	s.emit(ctx, audit.ActionSessionRevoked, "")
	return nil
}

// AdminList returns every active session across users, with the owning user
// attached to each row.
func (s *Service) AdminList(ctx context.Context) ([]wire.SessionRow, error) {
	var list wire.SessionList
	u := s.base.JoinPath("admin", "sessions").String()
	if err := rest.Do(ctx, s.hc, http.MethodGet, u, nil, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// AdminRevoke force-terminates any user's session.
func (s *Service) AdminRevoke(ctx context.Context, sessionID string) error {
	u := s.base.JoinPath("admin", "sessions", sessionID).String()
	if err := rest.Do(ctx, s.hc, http.MethodDelete, u, nil, nil); err != nil {
		return err
	}
	s.emit(ctx, audit.ActionAdminSessionRevoked, sessionID)
	return nil
}

func (s *Service) emit(ctx context.Context, action, sessionID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Emit(ctx, audit.Event{Action: action, SessionID: sessionID})
}
