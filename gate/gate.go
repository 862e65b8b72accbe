// Package gate tracks whether the active session has been flagged as
// suspicious and is pending explicit user verification. The server blocks
// refresh-token use for flagged sessions on its own; the client's only
// obligation is to expose this state so the UI can block interaction, and to
// clear it once verification succeeds.
package gate

import (
	"sync"

	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// State enumerates the two gate states.
type State int

const (
	// StateNormal means no verification is pending.
	StateNormal State = iota
	// StatePendingVerification means the server flagged the session and the
	// user must verify it before normal use resumes.
	StatePendingVerification
)

func (s State) String() string {
	if s == StatePendingVerification {
		return "pending_verification"
	}
	return "normal"
}

// Snapshot is the externally visible gate state. RequiresVerification is
// true exactly when SuspiciousSessionID is non-empty.
type Snapshot struct {
	RequiresVerification bool   `json:"requiresVerification"`
	SuspiciousSessionID  string `json:"suspiciousSessionId,omitempty"`
}

// Gate is the verification state machine. The suspicious session id is the
// whole state: empty means normal, non-empty means pending.
type Gate struct {
	mu           sync.RWMutex
	suspiciousID string
}

// New returns a gate in the normal state.
func New() *Gate {
	return &Gate{}
}

// Apply replaces gate state from the latest server verdict. Every successful
// authentication event calls this, so a verdict of "not suspicious" (or a
// missing session descriptor) clears any prior flag.
func (g *Gate) Apply(sess *wire.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sess != nil && sess.IsSuspicious {
		g.suspiciousID = sess.ID
		return
	}
	g.suspiciousID = ""
}

// Clear returns the gate to normal. Used after a successful verify-session
// call, after revoking the flagged session, and on logout or hard failure.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspiciousID = ""
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.suspiciousID != "" {
		return StatePendingVerification
	}
	return StateNormal
}

// RequiresVerification reports whether the session is pending verification.
func (g *Gate) RequiresVerification() bool {
	return g.State() == StatePendingVerification
}

// SuspiciousSessionID returns the flagged session id, or "" when normal.
func (g *Gate) SuspiciousSessionID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.suspiciousID
}

// Snapshot returns a consistent view of both fields.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		RequiresVerification: g.suspiciousID != "",
		SuspiciousSessionID:  g.suspiciousID,
	}
}
