package connector

import (
	"context"
	"time"

	"github.com/NeonGeckoCom/neon-mq-connector/metrics"
)

// OrchestratorConfig names everything the Orchestrator needs to wire up its
// Registry, Supervisor, Heartbeat, and Publisher against one broker.
type OrchestratorConfig struct {
	ServiceName string
	Base        ConnectionParams // host/port/credentials; Vhost is the service's own default vhost
	Factory     *ConnectionFactory

	ObservePeriod time.Duration // Supervisor tick period; DefaultObservePeriod if zero
	SyncPeriod    time.Duration // Heartbeat period; DefaultSyncPeriod if zero

	Metrics *metrics.Registry // may be nil to skip instrumentation

	BrokerWaitTimeout time.Duration // how long Run waits for the broker before giving up
}

// Orchestrator wires together the Registry, Supervisor, Heartbeat, and
// Publisher against one connection configuration (spec §4.I), and applies
// the testing-mode vhost prefix rewrite (spec §9) to every vhost it
// resolves — consumer specs at RegisterConsumer time, and its own service
// vhost for the heartbeat and default SendMessage destination.
type Orchestrator struct {
	cfg OrchestratorConfig

	registry   *Registry
	supervisor *Supervisor
	heartbeat  *Heartbeat
	publisher  *Publisher

	supervisorCtx    context.Context
	supervisorCancel context.CancelFunc
	heartbeatCtx     context.Context
	heartbeatCancel  context.CancelFunc
}

// NewOrchestrator builds an Orchestrator from cfg, applying defaults for any
// zero-valued period/timeout fields.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Factory == nil {
		cfg.Factory = NewConnectionFactory()
	}
	if cfg.BrokerWaitTimeout <= 0 {
		cfg.BrokerWaitTimeout = 60 * time.Second
	}
	cfg.Base.Vhost = resolveVhost(cfg.ServiceName, cfg.Base.Vhost)

	registry := NewRegistry(cfg.Base, cfg.Factory)
	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		supervisor: NewSupervisor(registry, cfg.ObservePeriod, cfg.Metrics),
		heartbeat:  NewHeartbeat(cfg.ServiceName, cfg.Base, cfg.Factory, cfg.SyncPeriod, cfg.Metrics),
		publisher:  NewPublisher(cfg.Base, cfg.Factory, cfg.Metrics),
	}
}

// RegisterConsumer rewrites spec.Vhost for testing mode and registers it
// with the Registry; it does not start the consumer (call Run for that).
func (o *Orchestrator) RegisterConsumer(ctx context.Context, spec ConsumerSpec) error {
	spec.Vhost = resolveVhost(o.cfg.ServiceName, spec.Vhost)
	return o.registry.Register(ctx, spec)
}

// Registry exposes the underlying Registry for direct inspection (Snapshot,
// Get) without giving callers a second way to register consumers.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Publisher exposes the Publisher API (Emit/PublishFanout/SendMessage/
// RequestReply) scoped to this orchestrator's broker and service vhost.
func (o *Orchestrator) Publisher() *Publisher { return o.publisher }

// SendMessage delegates to the Publisher using the orchestrator's own
// service vhost when vhost is empty, applying the same testing-mode rewrite
// RegisterConsumer does.
func (o *Orchestrator) SendMessage(ctx context.Context, data Record, vhost, exchange, queue string, exchangeType ExchangeType, expirationMs int) (string, error) {
	if vhost != "" {
		vhost = resolveVhost(o.cfg.ServiceName, vhost)
	}
	return o.publisher.SendMessage(ctx, data, vhost, exchange, queue, exchangeType, expirationMs)
}

// Run waits for the broker to become reachable, then launches whichever of
// consumers/heartbeat/supervisor the caller requested. Consumers must
// already be registered via RegisterConsumer.
func (o *Orchestrator) Run(ctx context.Context, runConsumers, runHeartbeat, runSupervisor bool) error {
	if !WaitForBroker(o.cfg.Base.Host, o.cfg.Base.Port, o.cfg.BrokerWaitTimeout) {
		return newErr(KindBrokerUnavailable, "broker "+o.cfg.Base.Host+" not reachable within timeout", nil)
	}

	if runConsumers {
		if err := o.registry.Run(ctx); err != nil {
			return err
		}
	}
	if runHeartbeat {
		o.heartbeatCtx, o.heartbeatCancel = context.WithCancel(ctx)
		o.heartbeat.Start(o.heartbeatCtx)
	}
	if runSupervisor {
		o.supervisorCtx, o.supervisorCancel = context.WithCancel(ctx)
		o.supervisor.Start(o.supervisorCtx)
	}
	return nil
}

// Stop stops all registered consumers and cancels the heartbeat/supervisor
// background tasks, joining each before returning.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.heartbeatCancel != nil {
		o.heartbeat.Stop()
		o.heartbeatCancel()
	}
	if o.supervisorCancel != nil {
		o.supervisor.Stop()
		o.supervisorCancel()
	}
	return o.registry.Stop(ctx)
}
