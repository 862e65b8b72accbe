// Package device derives human-readable device labels and stable device
// fingerprints from User-Agent strings. Labels name sessions in the session
// list ("Chrome on macOS"); fingerprints feed drift detection.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// ParseUserAgent turns a raw User-Agent header into a short display name such
// as "Chrome on macOS". Unknown parts degrade gracefully; an empty header
// yields "Unknown Device".
func ParseUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := osName(ua)
	if os == "" {
		os = "Unknown OS"
	}
	return browser + " on " + os
}

func osName(ua *useragent.UserAgent) string {
	name := ua.OSInfo().Name
	if strings.HasPrefix(name, "Mac OS X") {
		return "macOS"
	}
	return name
}

// Service computes and compares device fingerprints. Disabled instances
// return empty fingerprints so callers can treat the feature as absent.
type Service struct {
	enabled bool
}

// NewService builds a Service.
func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ComputeFingerprint hashes the stable parts of a User-Agent: browser name,
// major version, and OS family. Patch releases keep the same fingerprint; a
// major version jump or an OS change produces a new one.
func (s *Service) ComputeFingerprint(raw string) string {
	if !s.enabled {
		return ""
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	basis := browser + "/" + majorVersion(version) + "/" + ua.OSInfo().Name
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether the presented fingerprint matches the
// stored one and whether that constitutes drift.
func (s *Service) CompareFingerprints(stored, presented string) (matched, drift bool) {
	matched = stored != "" && stored == presented
	return matched, !matched
}

func majorVersion(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
