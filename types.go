package connector

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Record is the domain type the Codec (component A) and the Publisher API
// (component H) operate on: a nested map of string keys to scalars, byte
// strings, booleans, lists, or nested maps. It is the application-level
// payload shape carried inside a ServiceEnvelope.
type Record map[string]any

// Clone returns a shallow copy of r: top-level keys can be added (message_id
// injection) without aliasing the caller's map, but nested values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ExchangeType names one of the four AMQP 0-9-1 exchange kinds.
type ExchangeType string

const (
	ExchangeDirect  ExchangeType = "direct"
	ExchangeFanout  ExchangeType = "fanout"
	ExchangeTopic   ExchangeType = "topic"
	ExchangeHeaders ExchangeType = "headers"
)

// DispatchMode selects between the two callback dispatch flavors described
// in spec §4.D: a synchronous callback on the worker's own goroutine, or an
// awaited callback run inside a scoped acknowledgement context.
type DispatchMode int

const (
	// DispatchBlocking invokes the callback synchronously; the worker does
	// not pull the next delivery until the callback returns. This is the
	// default.
	DispatchBlocking DispatchMode = iota
	// DispatchAsync has the worker settle each delivery itself
	// (dispatchAsync): ack when the callback returns nil, otherwise
	// ack/nack/requeue per AckMode, a recovered panic included.
	DispatchAsync
)

// AckMode resolves the Open Question in spec §9 about what the async
// dispatch flavor should do when the callback fails. It only applies when
// DispatchMode is DispatchAsync and AutoAck is false.
type AckMode int

const (
	// AckModeNack rejects the delivery without requeue on callback failure
	// (default): the message is dropped (or dead-lettered), never retried
	// blindly.
	AckModeNack AckMode = iota
	// AckModeAck acknowledges the delivery even when the callback failed,
	// matching the Python original's ignore_processed=True behavior.
	AckModeAck
	// AckModeRequeue rejects the delivery and asks the broker to requeue it.
	AckModeRequeue
)

// Callback handles one inbound delivery. Blocking-mode callbacks must
// ack/nack the delivery themselves when AutoAck is false; async-mode
// callbacks never touch delivery.Ack/Nack directly (the worker's
// dispatchAsync does it).
type Callback func(ctx context.Context, delivery amqp.Delivery) error

// ErrorSink receives worker/delivery errors that don't need to propagate to
// the caller: callback failures, transient channel errors observed while
// running.
type ErrorSink func(w *Worker, err error)

// DefaultPrefetch is the QoS window applied when ConsumerSpec.Prefetch is
// zero.
const DefaultPrefetch = 50

// DefaultRestartBudget is the maximum supervisor-initiated restarts allowed
// per consumer when ConsumerSpec.RestartBudget is zero.
const DefaultRestartBudget = 5

// ConsumerSpec is immutable once registered; register with the same name
// again to replace it (the prior worker is stopped first).
type ConsumerSpec struct {
	Name  string
	Vhost string
	Queue string // may be empty to request a server-assigned name; exclusive only if QueueExclusive is set

	Exchange     string
	ExchangeType ExchangeType

	QueueReset     bool
	ExchangeReset  bool
	QueueExclusive bool
	AutoAck        bool

	Prefetch int

	Callback Callback
	OnError  ErrorSink

	RestartBudget int

	DispatchMode DispatchMode
	AckMode      AckMode

	// SkipIfExists, when passed to Register, leaves an existing live
	// consumer with the same name untouched instead of replacing it.
	SkipIfExists bool
}

func (s ConsumerSpec) withDefaults() ConsumerSpec {
	if s.Prefetch <= 0 {
		s.Prefetch = DefaultPrefetch
	}
	if s.RestartBudget <= 0 {
		s.RestartBudget = DefaultRestartBudget
	}
	if s.ExchangeType == "" {
		s.ExchangeType = ExchangeDirect
	}
	if s.OnError == nil {
		s.OnError = func(*Worker, error) {}
	}
	return s
}

// ConsumerState is the Registry-owned, mutable record for one consumer
// name: its spec, current worker (nil if absent), whether the caller wants
// it running, and how many times the supervisor has restarted it.
type ConsumerState struct {
	Spec         ConsumerSpec
	Worker       *Worker
	Started      bool
	RestartCount int
}

// snapshot returns a value copy safe to read without the registry lock
// held (Worker is a pointer, but its own fields are read through its own
// atomics/mutex).
func (c ConsumerState) snapshot() ConsumerState { return c }

// ServiceEnvelope is the record every heartbeat and request/reply helper
// publishes: a message_id generated per publish, the process-stable
// service_id, and an application-defined payload.
type ServiceEnvelope struct {
	MessageID string
	ServiceID string
	Data      Record
}

// ToRecord flattens the envelope into the wire Record: message_id and
// (if set) service_id are merged into a copy of Data.
func (e ServiceEnvelope) ToRecord() Record {
	out := make(Record, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["message_id"] = e.MessageID
	if e.ServiceID != "" {
		out["service_id"] = e.ServiceID
	}
	return out
}
