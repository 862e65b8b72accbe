// Package audit captures security-relevant session events emitted by the
// coordinator: logins, refreshes, forced logouts, verification outcomes.
// Events are transport-agnostic so stores can fan out; the SDK ships an
// in-memory store for tests and a Kafka store for security monitoring
// pipelines.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Action names for session lifecycle events.
const (
	ActionLoggedIn            = "logged_in"
	ActionLoginFailed         = "login_failed"
	ActionRegistered          = "registered"
	ActionTokenRefreshed      = "token_refreshed"
	ActionSessionEnded        = "session_ended"
	ActionSecurityViolation   = "security_violation"
	ActionSessionVerified     = "session_verified"
	ActionLoggedOut           = "logged_out"
	ActionSessionFlagged      = "session_flagged"
	ActionSessionRevoked      = "session_revoked"
	ActionAdminSessionRevoked = "admin_session_revoked"
)

// Event is one security-relevant occurrence. Keep fields flat and
// JSON-friendly; downstream consumers index on Action and SessionID.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

//go:generate mockgen -source=audit.go -destination=mocks/store.go -package=mocks Store

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher decouples event emission from persistence. In sync mode Emit
// appends inline; with an async buffer a worker goroutine drains the channel
// and full-buffer events are dropped rather than blocking the auth path.
type Publisher struct {
	store Store
	log   *slog.Logger

	inbox chan Event
	done  chan struct{}
	once  sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given channel
// capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// WithLogger sets the logger used for dropped or failed appends.
func WithLogger(log *slog.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

// NewPublisher builds a Publisher over store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records one event. Never blocks the caller in async mode; a full
// buffer drops the event with a log line.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if p.inbox == nil {
		return p.append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.log.Warn("audit buffer full, dropping event", "action", event.Action)
		return nil
	}
}

// Close stops the async worker after draining buffered events. Safe to call
// on a sync-mode publisher and safe to call twice.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox == nil {
			return
		}
		close(p.inbox)
		<-p.done
	})
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		_ = p.append(context.Background(), event)
	}
}

func (p *Publisher) append(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.log.Error("audit append failed", "action", event.Action, "error", err)
		return err
	}
	return nil
}
