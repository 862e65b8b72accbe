package sessionintel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rutvikpatel14/session-intelligence-go/metrics"
)

// poller re-validates the session on a fixed interval while the user is
// authenticated, so admin-forced logouts and new suspicion verdicts are
// observed within one interval without any user action. Each tick runs the
// same refresh path as bootstrap; a tick that would overlap a still-running
// one is skipped, and a failed tick ends the loop; the coordinator has
// already torn the session down by then.
type poller struct {
	interval time.Duration
	tick     func(ctx context.Context) error
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

func newPoller(interval time.Duration, log *slog.Logger, m *metrics.Metrics, tick func(ctx context.Context) error) *poller {
	return &poller{interval: interval, tick: tick, log: log, metrics: m}
}

// start begins polling. Safe to call when already running; disabled when the
// interval is negative.
func (p *poller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// stop halts polling. Idempotent; a later start begins a fresh loop.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				continue
			}
			err := p.tick(ctx)
			p.inFlight.Store(false)

			if err != nil {
				p.metrics.PollTicksTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
				p.log.Info("session poll failed, stopping poller", "error", err)
				return
			}
			p.metrics.PollTicksTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		}
	}
}
