// Package wire holds the JSON payload types exchanged with the
// session-intelligence backend. Types here mirror the server contract exactly
// and carry no behavior beyond decoding helpers; every consumer replaces these
// values wholesale rather than merging fields.
package wire

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the coarse authorization level the server assigns to a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the immutable identity snapshot returned on login and refresh.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Session describes the server-side session paired with the current tokens.
// IsSuspicious is the server's verdict; the client never computes it.
type Session struct {
	ID           string `json:"id"`
	IsSuspicious bool   `json:"isSuspicious"`
}

// AuthPayload is the body of successful /auth/login and /auth/refresh
// responses. Session may be absent on older backends; treat nil as "no
// verdict".
type AuthPayload struct {
	User                 *User    `json:"user"`
	AccessToken          string   `json:"accessToken"`
	CSRFToken            string   `json:"csrfToken"`
	Session              *Session `json:"session"`
	RequiresVerification bool     `json:"requiresVerification"`
}

// LoginRequest is the /auth/login body. DeviceName is a human label for the
// session list ("Chrome on macOS"); IPAddress is optional and the server
// falls back to connection-level detection when it is empty.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
}

// RegisterRequest is the /auth/register body.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifySessionRequest is the /auth/verify-session body.
type VerifySessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionRow is one entry of the caller's session listing. Admin listings
// additionally populate User.
type SessionRow struct {
	ID           string    `json:"id"`
	DeviceName   string    `json:"deviceName"`
	IPAddress    string    `json:"ipAddress"`
	Country      string    `json:"country"`
	UserAgent    string    `json:"userAgent"`
	IsSuspicious bool      `json:"isSuspicious"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	User         *User     `json:"user,omitempty"`
}

// SessionList wraps session listings; the server nests rows under "sessions".
type SessionList struct {
	Sessions []SessionRow `json:"sessions"`
}

// Security error codes the server attaches to 403 responses. Both are fatal
// to the local session and must never be retried.
const (
	CodeRefreshTokenReuse           = "REFRESH_TOKEN_REUSE_DETECTED"
	CodeSessionVerificationRequired = "SESSION_VERIFICATION_REQUIRED"
)

// IsSecurityCode reports whether code is one of the server-signaled security
// violations that force a hard logout.
func IsSecurityCode(code string) bool {
	return code == CodeRefreshTokenReuse || code == CodeSessionVerificationRequired
}

// ErrorEnvelope is the failure body shape: {"error":{"code","message"}}.
type ErrorEnvelope struct {
	Error *ErrorBody `json:"error"`
}

// ErrorBody carries the machine code and the human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TokenExpiry extracts the expiry claim from an access token without
// verifying its signature. The token is opaque to this client; expiry is the
// only claim surfaced, and only for display purposes; authorization
// decisions stay with the server.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("access token has no expiry claim")
	}
	return exp.Time, nil
}
