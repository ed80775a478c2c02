package connector

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NeonGeckoCom/neon-mq-connector/metrics"
)

// DefaultSyncPeriod is the heartbeat interval applied when Heartbeat.Period
// is zero, per spec §4.G.
const DefaultSyncPeriod = 10 * time.Second

// Heartbeat periodically publishes a ServiceEnvelope carrying {service_id,
// time} to "<service_name>_sync" on its own short-lived connection. A
// publish that exhausts the Retry Policy stops the heartbeat permanently
// rather than spinning on a broker it can't reach, per spec §4.G.
type Heartbeat struct {
	serviceName string
	serviceID   string
	params      ConnectionParams
	factory     *ConnectionFactory
	period      time.Duration
	retries     int
	backoff     time.Duration
	metrics     *metrics.Registry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat returns a Heartbeat that publishes to params.Vhost as
// serviceName every period (DefaultSyncPeriod if period <= 0). It generates
// a 128-bit opaque service_id once, here, at construction time — the spec's
// data model requires service_id to identify this process instance, not the
// (shared, human-readable) service name. m may be nil to skip metrics.
func NewHeartbeat(serviceName string, params ConnectionParams, factory *ConnectionFactory, period time.Duration, m *metrics.Registry) *Heartbeat {
	if factory == nil {
		factory = NewConnectionFactory()
	}
	if period <= 0 {
		period = DefaultSyncPeriod
	}
	return &Heartbeat{
		serviceName: serviceName,
		serviceID:   NewID(),
		params:      params,
		factory:     factory,
		period:      period,
		retries:     DefaultConnectRetries,
		backoff:     DefaultConnectBackoff,
		metrics:     m,
	}
}

// ServiceID returns the opaque identifier generated once for this process,
// the same value carried in every heartbeat envelope.
func (h *Heartbeat) ServiceID() string { return h.serviceID }

func (h *Heartbeat) destination() string { return h.serviceName + "_sync" }

// Start launches the periodic publish loop. Calling it twice without an
// intervening Stop is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.loop(ctx, h.stopCh, h.doneCh)
}

func (h *Heartbeat) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				if h.metrics != nil {
					h.metrics.HeartbeatFailures.Inc()
				}
				h.markStopped()
				return
			}
		}
	}
}

// markStopped flips running to false without waiting on doneCh, for the
// loop goroutine to call on itself (Stop, by contrast, is for callers and
// blocks until the loop — possibly this same goroutine's caller — exits).
func (h *Heartbeat) markStopped() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
}

// beat publishes one heartbeat envelope, retrying transient failures via the
// Retry Policy.
func (h *Heartbeat) beat(ctx context.Context) error {
	envelope := ServiceEnvelope{
		MessageID: NewID(),
		ServiceID: h.serviceID,
		Data:      Record{"time": time.Now().Unix()},
	}

	err := RetryVoid(func() error {
		return h.publishOnce(envelope)
	}, h.retries, h.backoff, nil, nil)
	if err != nil {
		return newErr(KindBrokerUnavailable, "heartbeat publish for "+h.serviceName, err)
	}

	if h.metrics != nil {
		h.metrics.HeartbeatsPublished.Inc()
	}
	return nil
}

func (h *Heartbeat) publishOnce(envelope ServiceEnvelope) error {
	conn, err := h.factory.Dial(h.params)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	queue := h.destination()
	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return err
	}

	body, err := Encode(envelope.ToRecord())
	if err != nil {
		return err
	}

	return ch.Publish("", queue, false, false, amqp.Publishing{Body: body})
}

// Tick runs one publish attempt synchronously, for deterministic tests.
func (h *Heartbeat) Tick(ctx context.Context) error { return h.beat(ctx) }

// Stop cancels the publish loop and waits for it to exit. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	stopCh, doneCh := h.stopCh, h.doneCh
	h.running = false
	h.mu.Unlock()

	close(stopCh)
	<-doneCh
}
