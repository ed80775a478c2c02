package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// WorkerState is one state of the consumer worker state machine in spec
// §4.D: created -> starting -> consuming -> stopping -> terminated, with a
// dead terminal state reachable from starting or consuming on failure.
type WorkerState int32

const (
	StateCreated WorkerState = iota
	StateStarting
	StateConsuming
	StateStopping
	StateTerminated
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateConsuming:
		return "consuming"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Worker owns one consumer's connection and channel. It is created by the
// Registry and confined to its own goroutine once started; callbacks see
// only their owning Worker, never the registry or orchestrator (the
// arena+index discipline from spec §9).
type Worker struct {
	name       string
	spec       ConsumerSpec
	factory    *ConnectionFactory
	connParams ConnectionParams

	state int32 // WorkerState, accessed atomically

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	startedCh   chan struct{}
	startedOnce sync.Once
}

// NewWorker constructs a Worker bound to spec, not yet started.
func NewWorker(name string, spec ConsumerSpec, factory *ConnectionFactory, params ConnectionParams) *Worker {
	return &Worker{
		name:       name,
		spec:       spec.withDefaults(),
		factory:    factory,
		connParams: params,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		startedCh:  make(chan struct{}),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(atomic.LoadInt32(&w.state)) }

func (w *Worker) setState(s WorkerState) { atomic.StoreInt32(&w.state, int32(s)) }

// IsConsuming reports whether the worker's consume loop is actively
// dispatching deliveries.
func (w *Worker) IsConsuming() bool { return w.State() == StateConsuming }

// IsAlive reports whether the worker is in any non-terminal state.
func (w *Worker) IsAlive() bool {
	switch w.State() {
	case StateTerminated, StateDead:
		return false
	default:
		return true
	}
}

// Name returns the consumer name this worker was registered under.
func (w *Worker) Name() string { return w.name }

// Queue returns the effective queue name, resolved after Start if the spec
// requested a server-assigned name.
func (w *Worker) Queue() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spec.Queue
}

// Started blocks until the worker begins consuming, or ctx is done.
func (w *Worker) Started(ctx context.Context) error {
	select {
	case <-w.startedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start opens the connection/channel, declares topology, and launches the
// consume loop on a new goroutine. It returns once that goroutine is
// launched (or setup failed); the state becomes consuming only when the loop
// runs, which Started waits for.
func (w *Worker) Start(ctx context.Context) error {
	w.setState(StateStarting)

	conn, err := w.factory.Dial(w.connParams)
	if err != nil {
		w.setState(StateDead)
		w.spec.OnError(w, err)
		return newErr(KindBrokerUnavailable, "worker "+w.name+" connect", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		w.setState(StateDead)
		werr := newErr(KindBrokerUnavailable, "worker "+w.name+" open channel", err)
		w.spec.OnError(w, werr)
		return werr
	}

	queueName, err := setupTopology(ch, w.spec)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		w.setState(StateDead)
		werr := newErr(KindBrokerUnavailable, "worker "+w.name+" topology", err)
		w.spec.OnError(w, werr)
		return werr
	}

	w.mu.Lock()
	w.conn = conn
	w.channel = ch
	w.spec.Queue = queueName
	w.mu.Unlock()

	deliveries, err := ch.Consume(queueName, "", w.spec.AutoAck, w.spec.QueueExclusive, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		w.setState(StateDead)
		werr := newErr(KindBrokerUnavailable, "worker "+w.name+" consume", err)
		w.spec.OnError(w, werr)
		return werr
	}

	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	go w.run(ctx, deliveries, closeNotify)

	return nil
}

// run is the worker's own goroutine: it dispatches deliveries in order
// until stopped, the channel is closed by the broker, or ctx is cancelled.
func (w *Worker) run(ctx context.Context, deliveries <-chan amqp.Delivery, closeNotify <-chan *amqp.Error) {
	defer close(w.doneCh)

	w.setState(StateConsuming)
	w.startedOnce.Do(func() { close(w.startedCh) })

	for {
		select {
		case <-w.stopCh:
			w.setState(StateStopping)
			w.teardown()
			w.setState(StateTerminated)
			return
		case <-ctx.Done():
			w.setState(StateStopping)
			w.teardown()
			w.setState(StateTerminated)
			return
		case amqpErr, ok := <-closeNotify:
			if ok {
				w.spec.OnError(w, newErr(KindChannelClosed, "channel closed by broker", amqpErr))
			}
			w.setState(StateDead)
			return
		case delivery, ok := <-deliveries:
			if !ok {
				w.setState(StateDead)
				return
			}
			w.dispatch(ctx, delivery)
		}
	}
}

// dispatch invokes the callback for one delivery per the worker's
// DispatchMode, then acks/nacks per AutoAck/AckMode. Panics from the
// callback are recovered and treated as CallbackFailure, matching spec
// §4.D's "catches it, calls on_error, acks/nacks, continues".
func (w *Worker) dispatch(ctx context.Context, delivery amqp.Delivery) {
	switch w.spec.DispatchMode {
	case DispatchAsync:
		w.dispatchAsync(ctx, delivery)
	default:
		w.dispatchBlocking(ctx, delivery)
	}
}

func (w *Worker) dispatchBlocking(ctx context.Context, delivery amqp.Delivery) {
	err := w.invokeCallback(ctx, delivery)
	if err != nil {
		w.spec.OnError(w, newErr(KindCallbackFailure, "callback failed", err))
	}
	if w.spec.AutoAck {
		return
	}
	// Blocking mode leaves explicit ack to the callback; if the callback
	// returned an error, nack without requeue so the delivery doesn't spin
	// forever against a deterministically-failing callback. The worker does
	// not check whether the callback already acked before returning the error.
	if err != nil {
		_ = delivery.Nack(false, false)
	}
}

func (w *Worker) dispatchAsync(ctx context.Context, delivery amqp.Delivery) {
	err := w.invokeCallback(ctx, delivery)
	if err != nil {
		w.spec.OnError(w, newErr(KindCallbackFailure, "callback failed", err))
	}
	if w.spec.AutoAck {
		return
	}
	switch {
	case err == nil:
		_ = delivery.Ack(false)
	case w.spec.AckMode == AckModeAck:
		_ = delivery.Ack(false)
	case w.spec.AckMode == AckModeRequeue:
		_ = delivery.Nack(false, true)
	default: // AckModeNack
		_ = delivery.Nack(false, false)
	}
}

func (w *Worker) invokeCallback(ctx context.Context, delivery amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return w.spec.Callback(ctx, delivery)
}

func (w *Worker) teardown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.channel != nil {
		_ = w.channel.Close()
	}
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

// Stop requests the worker's consume loop to exit and blocks until it does,
// or the context is done first. A worker with no running loop (never
// started, or dead) returns at once.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	switch w.State() {
	case StateCreated, StateDead:
		return nil
	}
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return newErr(KindJoinTimeout, "worker "+w.name+" did not stop in time", ctx.Err())
	}
}
