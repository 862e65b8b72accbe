// Package sessionintel is a client-resident session coordinator for the
// session-intelligence auth backend. It owns the short-lived access token
// and its paired CSRF token, transparently refreshes them on expiry with
// single-flight deduplication, reacts to server-signaled security conditions
// (refresh token reuse, pending session verification) with a hard local
// logout, and keeps a background poll running so server-initiated session
// terminations are observed without user action.
//
// UI collaborators hold one [Client] per session and call its public
// surface: Bootstrap, Login, Logout, Register, VerifySession, MarkVerified,
// and the Sessions service for listing and revocation. Everything the UI
// renders (current user, verification gate state) is read back from the
// Client; collaborators never mutate auth state themselves.
package sessionintel
