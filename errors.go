package connector

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error categories named in the connector's
// error-handling design: which ones are recovered locally (BrokerUnavailable,
// ChannelClosed, CallbackFailure) and which are surfaced to the caller
// (RestartBudgetExceeded, JoinTimeout, ConfigMissing, InvalidRequest,
// InvalidVhost, Timeout).
type Kind string

const (
	KindConfigMissing         Kind = "ConfigMissing"
	KindInvalidRequest        Kind = "InvalidRequest"
	KindInvalidVhost          Kind = "InvalidVhost"
	KindBrokerUnavailable     Kind = "BrokerUnavailable"
	KindChannelClosed         Kind = "ChannelClosed"
	KindCallbackFailure       Kind = "CallbackFailure"
	KindJoinTimeout           Kind = "JoinTimeout"
	KindRestartBudgetExceeded Kind = "RestartBudgetExceeded"
	KindTimeout               Kind = "Timeout"
)

// Error is the connector's error type. It carries a Kind for callers that
// want to branch on category, and wraps a cause for diagnostics.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap allows errors.Is / errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// newErr builds an *Error, wrapping cause with github.com/pkg/errors for a
// stack-carrying trace when cause is non-nil.
func newErr(kind Kind, msg string, cause error) *Error {
	if cause != nil {
		cause = errors.Wrap(cause, msg)
	}
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
