// Package gatekeeper is the shell's route guard: protected paths require the
// long-lived session cookie, and visitors without it are redirected to the
// login surface with the original destination preserved.
package gatekeeper

import (
	"net/http"
	"net/url"
	"strings"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/login"

// Protect returns middleware guarding every path under the given prefixes.
// The check is presence of the named cookie only; whether the cookie is still
// valid is the backend's call, made on the first API request after redirect.
func Protect(cookieName string, prefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guarded(r.URL.Path, prefixes) {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := r.Cookie(cookieName); err != nil {
				target := LoginPath + "?from=" + url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// guarded matches on whole path segments, so /sessions-public is not caught
// by a /sessions prefix.
func guarded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
