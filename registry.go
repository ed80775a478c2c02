package connector

import (
	"context"
	"sync"
	"time"
)

// DefaultJoinTimeout bounds how long Stop waits for a worker to exit before
// surfacing a JoinTimeout error, per spec §4.E.
const DefaultJoinTimeout = 10 * time.Second

// Registry is the process-wide, name-keyed map of consumer specs, workers,
// and restart state (spec §4.E). All mutation is serialized on one mutex;
// readers (the Supervisor) take a consistent snapshot before iterating, per
// the arena+index discipline in spec §9: the Registry owns workers by name,
// and workers never hold a back-pointer to it.
type Registry struct {
	mu          sync.Mutex
	consumers   map[string]*ConsumerState
	base        ConnectionParams // host/port/credentials shared by all consumers
	factory     *ConnectionFactory
	joinTimeout time.Duration
}

// NewRegistry returns an empty Registry. base supplies the host/port/
// credentials shared by every consumer it creates; each ConsumerSpec's own
// Vhost overrides base.Vhost per registration.
func NewRegistry(base ConnectionParams, factory *ConnectionFactory) *Registry {
	if factory == nil {
		factory = NewConnectionFactory()
	}
	return &Registry{
		consumers:   make(map[string]*ConsumerState),
		base:        base,
		factory:     factory,
		joinTimeout: DefaultJoinTimeout,
	}
}

func (r *Registry) paramsFor(spec ConsumerSpec) ConnectionParams {
	p := r.base
	p.Vhost = spec.Vhost
	return p
}

// Register installs spec under spec.Name, replacing any existing live
// consumer with that name (invariant 1). If spec.SkipIfExists is set and a
// consumer with the same name already exists, Register returns immediately
// without touching it.
func (r *Registry) Register(ctx context.Context, spec ConsumerSpec) error {
	spec = spec.withDefaults()

	r.mu.Lock()
	existing, ok := r.consumers[spec.Name]
	r.mu.Unlock()

	if ok && spec.SkipIfExists {
		return nil
	}
	if ok {
		if err := r.Stop(ctx, spec.Name); err != nil {
			return err
		}
		_ = existing
	}

	worker := NewWorker(spec.Name, spec, r.factory, r.paramsFor(spec))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[spec.Name] = &ConsumerState{Spec: spec, Worker: worker, Started: false}
	return nil
}

// namesOrAll returns names if non-empty, else every registered name.
func (r *Registry) namesOrAll(names []string) []string {
	if len(names) > 0 {
		return names
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.consumers))
	for name := range r.consumers {
		out = append(out, name)
	}
	return out
}

// Run launches the worker for every named consumer not currently alive,
// marking it Started. Passing no names runs every registered consumer.
func (r *Registry) Run(ctx context.Context, names ...string) error {
	for _, name := range r.namesOrAll(names) {
		r.mu.Lock()
		state, ok := r.consumers[name]
		r.mu.Unlock()
		if !ok || state.Worker == nil || state.Worker.IsAlive() {
			continue
		}
		if err := state.Worker.Start(ctx); err != nil {
			return err
		}
		r.mu.Lock()
		state.Started = true
		r.mu.Unlock()
	}
	return nil
}

// Stop requests the worker for every named consumer to stop, joins it with
// the registry's join timeout, then clears the worker slot and Started
// flag. Passing no names stops every registered consumer.
func (r *Registry) Stop(ctx context.Context, names ...string) error {
	for _, name := range r.namesOrAll(names) {
		r.mu.Lock()
		state, ok := r.consumers[name]
		r.mu.Unlock()
		if !ok || state.Worker == nil {
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, r.joinTimeout)
		err := state.Worker.Stop(stopCtx)
		cancel()
		if err != nil {
			return err
		}

		r.mu.Lock()
		state.Worker = nil
		state.Started = false
		r.mu.Unlock()
	}
	return nil
}

// Restart stops the named consumer, reinstantiates its worker from the
// stored spec, starts it, and increments RestartCount — unless the budget
// is already exhausted, in which case it returns RestartBudgetExceeded and
// leaves the consumer permanently down (invariant 3: the supervisor never
// retries further).
func (r *Registry) Restart(ctx context.Context, name string) error {
	r.mu.Lock()
	state, ok := r.consumers[name]
	r.mu.Unlock()
	if !ok {
		return newErr(KindRestartBudgetExceeded, "unknown consumer "+name, nil)
	}

	if state.RestartCount >= state.Spec.RestartBudget {
		return newErr(KindRestartBudgetExceeded, "consumer "+name+" restart budget exhausted", nil)
	}

	if state.Worker != nil {
		if err := r.Stop(ctx, name); err != nil {
			return err
		}
	}

	r.mu.Lock()
	spec := state.Spec
	worker := NewWorker(name, spec, r.factory, r.paramsFor(spec))
	state.Worker = worker
	r.mu.Unlock()

	if err := worker.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	state.Started = true
	state.RestartCount++
	r.mu.Unlock()
	return nil
}

// Snapshot returns a consistent point-in-time copy of every consumer's
// state, safe for the Supervisor to iterate without holding the registry
// lock.
func (r *Registry) Snapshot() map[string]ConsumerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ConsumerState, len(r.consumers))
	for name, state := range r.consumers {
		out[name] = state.snapshot()
	}
	return out
}

// Get returns the current state for name and whether it's registered.
func (r *Registry) Get(name string) (ConsumerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.consumers[name]
	if !ok {
		return ConsumerState{}, false
	}
	return state.snapshot(), true
}
