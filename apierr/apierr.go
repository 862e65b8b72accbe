// Package apierr defines the error taxonomy for calls against the
// session-intelligence backend.
//
// Sentinel errors describe factual session states. Services and collaborators
// branch with errors.Is; the coded *Error type preserves the server's
// machine code and human message for display.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// Sentinel errors for session facts, not validation failures:
//   - ErrUnauthenticated: the request lacked a usable access token (HTTP 401)
//   - ErrSessionEnded: the local session was torn down (refresh failure,
//     poller failure, server-initiated termination)
//   - ErrSecurityViolation: the server reported refresh token reuse
//   - ErrVerificationRequired: the server requires explicit session verification
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrSessionEnded         = errors.New("session ended")
	ErrSecurityViolation    = errors.New("security violation")
	ErrVerificationRequired = errors.New("session verification required")
)

// Error is a failure response from the backend with its envelope decoded.
type Error struct {
	Status  int
	Code    string
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a coded error without an HTTP response, for locally raised
// failures that should surface through the same taxonomy.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, wrapped: sentinelFor(status, code)}
}

// FromResponse decodes the server error envelope out of body and wraps the
// matching sentinel. The body has already been read by the caller; a missing
// or malformed envelope degrades to a bare status error.
func FromResponse(resp *http.Response, body []byte) *Error {
	e := &Error{Status: resp.StatusCode}
	var env wire.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	e.wrapped = sentinelFor(e.Status, e.Code)
	return e
}

func sentinelFor(status int, code string) error {
	switch code {
	case wire.CodeRefreshTokenReuse:
		return ErrSecurityViolation
	case wire.CodeSessionVerificationRequired:
		return ErrVerificationRequired
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// Message extracts a human-readable message for display, falling back when
// the server supplied none. Ordinary failures surface verbatim; transport
// errors and empty envelopes use the fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusOf returns the HTTP status carried by err, or zero when err is not a
// backend failure.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
