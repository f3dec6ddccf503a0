// Package errdefs defines the error taxonomy shared by every hostwire layer.
//
// Errors carry a Kind so callers can tell "the host could not be reached"
// apart from "the host ran the work and it failed" without matching on
// message text. Lower-level causes are always kept in the chain.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindConfiguration covers bad addresses, unreadable or invalid config
	// files and unknown provider names. Fatal at startup.
	KindConfiguration Kind = "configuration"

	// KindProviderUnavailable means no provider for an endpoint reported
	// itself available on the target host.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindTransport covers connect, send and receive failures.
	KindTransport Kind = "transport"

	// KindRemote means the agent could not invoke the requested provider.
	KindRemote Kind = "remote"

	// KindSerialization covers malformed JSON and wire protocol violations.
	KindSerialization Kind = "serialization"

	// KindExecution means a local provider could not be invoked at all,
	// e.g. the child process failed to spawn.
	KindExecution Kind = "execution"
)

// Error is a classified error with context.
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Endpoint names the endpoint involved (Command, Package, Service, Telemetry).
	Endpoint string `json:"endpoint,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.Endpoint != "" && e.Op != "":
		msg += fmt.Sprintf(" (endpoint=%s, op=%s)", e.Endpoint, e.Op)
	case e.Endpoint != "":
		msg += fmt.Sprintf(" (endpoint=%s)", e.Endpoint)
	case e.Op != "":
		msg += fmt.Sprintf(" (op=%s)", e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. An empty
// Endpoint on the target matches any endpoint.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Endpoint == "" || t.Endpoint == e.Endpoint
}

// WithOp sets the operation context.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithEndpoint sets the endpoint context.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Configuration creates a configuration error.
func Configuration(message string, err error) *Error {
	return New(KindConfiguration, message, err)
}

// ProviderUnavailable creates the error returned by a provider factory that
// found nothing available for endpoint.
func ProviderUnavailable(endpoint string) *Error {
	return &Error{
		Kind:     KindProviderUnavailable,
		Message:  "no provider available",
		Endpoint: endpoint,
	}
}

// Transport creates a transport error.
func Transport(message string, err error) *Error {
	return New(KindTransport, message, err)
}

// Remote creates an error reported by the agent. cause is the agent's own
// error, rebuilt with the kind it reported.
func Remote(message string, cause error) *Error {
	return New(KindRemote, message, cause)
}

// Serialization creates a serialization error.
func Serialization(message string, err error) *Error {
	return New(KindSerialization, message, err)
}

// Execution creates an execution error.
func Execution(message string, err error) *Error {
	return New(KindExecution, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether any *Error in err's chain is of kind. An agent
// failure is Remote and also carries the kind the agent reported.
func HasKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// IsConfiguration checks if an error is a configuration error.
func IsConfiguration(err error) bool {
	return HasKind(err, KindConfiguration)
}

// IsProviderUnavailable checks if an error reports a missing provider.
func IsProviderUnavailable(err error) bool {
	return HasKind(err, KindProviderUnavailable)
}

// IsTransport checks if an error is a transport error.
func IsTransport(err error) bool {
	return HasKind(err, KindTransport)
}

// IsRemote checks if an error was reported by the agent.
func IsRemote(err error) bool {
	return HasKind(err, KindRemote)
}

// IsSerialization checks if an error is a serialization error.
func IsSerialization(err error) bool {
	return HasKind(err, KindSerialization)
}

// IsExecution checks if an error is an execution error.
func IsExecution(err error) bool {
	return HasKind(err, KindExecution)
}
