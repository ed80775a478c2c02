package connector

import (
	"context"
	"sync"
	"time"

	"github.com/NeonGeckoCom/neon-mq-connector/metrics"
)

// DefaultObservePeriod is how often the Supervisor scans the registry for
// dead-but-expected-alive consumers, per spec §4.F.
const DefaultObservePeriod = 20 * time.Second

// Supervisor periodically scans a Registry and restarts any consumer that
// is Started but not actively consuming, up to that consumer's restart
// budget (spec §4.F). It never restarts a consumer the caller intentionally
// stopped (Started == false) or one whose budget is already exhausted.
type Supervisor struct {
	registry *Registry
	period   time.Duration
	metrics  *metrics.Registry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSupervisor returns a Supervisor for registry, ticking every period (or
// DefaultObservePeriod if period <= 0). m may be nil to skip metrics.
func NewSupervisor(registry *Registry, period time.Duration, m *metrics.Registry) *Supervisor {
	if period <= 0 {
		period = DefaultObservePeriod
	}
	return &Supervisor{registry: registry, period: period, metrics: m}
}

// Start launches the periodic observation loop as a cancellable goroutine.
// Calling Start twice without an intervening Stop is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
}

func (s *Supervisor) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a single observation pass: it is also exported implicitly via
// Start's loop, but kept separate so tests can drive one pass deterministically.
func (s *Supervisor) tick(ctx context.Context) {
	snapshot := s.registry.Snapshot()

	consuming := 0
	for name, state := range snapshot {
		alive := state.Worker != nil && state.Worker.IsAlive() && state.Worker.IsConsuming()
		if alive {
			consuming++
		}
		if !state.Started {
			continue // intentionally down
		}
		if alive {
			continue
		}
		if state.RestartCount >= state.Spec.RestartBudget {
			continue // budget exhausted; never retry further
		}

		if err := s.registry.Restart(ctx, name); err != nil {
			if s.metrics != nil {
				if IsKind(err, KindRestartBudgetExceeded) {
					s.metrics.RestartBudgetExceeded.WithLabelValues(name).Inc()
				}
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.ConsumerRestarts.WithLabelValues(name).Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.WorkersConsuming.Set(float64(consuming))
	}
}

// Tick runs one observation pass synchronously; exported for tests and for
// callers that want to drive the supervisor manually instead of on a timer.
func (s *Supervisor) Tick(ctx context.Context) { s.tick(ctx) }

// Stop cancels the observation loop and waits for it to exit. It is
// idempotent: calling it when the loop isn't running is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}
