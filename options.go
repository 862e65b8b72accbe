package sessionintel

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rutvikpatel14/session-intelligence-go/audit"
)

// DefaultPollInterval is how often the background poller re-validates the
// session when the caller does not tune it.
const DefaultPollInterval = 5 * time.Second

// Options configures a Client. Only BaseURL is required.
type Options struct {
	// BaseURL is the backend origin including any path prefix, e.g.
	// "http://localhost:4000/api".
	BaseURL string

	// Logger receives structured coordinator events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Registry receives the client's Prometheus metrics. Nil keeps metrics
	// on a private registry.
	Registry prometheus.Registerer

	// Audit, when set, receives security lifecycle events (logins, forced
	// logouts, reuse detections). The publisher's lifetime is the caller's.
	Audit *audit.Publisher

	// PollInterval tunes the background session poll. Zero means
	// DefaultPollInterval; negative disables polling entirely.
	PollInterval time.Duration

	// OnSessionEnd fires once per session teardown that the user did not ask
	// for (refresh failure, security violation, poll failure) with the
	// reason. The shell uses it to navigate to the sign-in surface. Called
	// after local state is cleared; must not block.
	OnSessionEnd func(reason string)
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.PollInterval == 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}
