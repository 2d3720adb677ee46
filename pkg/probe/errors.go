package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Only ErrTransport is transient.
var (
	// ErrTransport means the node could not be reached or did not answer
	ErrTransport = errors.New("transport failure")
	// ErrInvalidArgument means the node rejected the request (unknown keyspace, table, mbean)
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInterrupted means the caller cancelled the operation
	ErrInterrupted = errors.New("interrupted")
	// ErrRemote means the node accepted the request but the operation failed
	ErrRemote = errors.New("remote operation failed")
)

// Error is returned by every probe call
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the failure kind, so errors.Is(err, probe.ErrTransport) works
// through any number of %w wrappers.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}

// KindLabel returns a short label for metrics and CLI exit messages
func KindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, ErrRemote):
		return "remote"
	}
	return "unknown"
}

// classifyCall maps a failed HTTP round trip onto a failure kind. Only a
// caller cancellation is an interruption; timeouts, refused connections and
// resets all count as transport failures.
func classifyCall(ctx context.Context, op string, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return &Error{Op: op, Kind: ErrInterrupted, Err: err}
	}
	return &Error{Op: op, Kind: ErrTransport, Err: err}
}

// Remote exception types that mean the request itself was wrong
var invalidArgumentTypes = []string{
	"java.lang.IllegalArgumentException",
	"javax.management.InstanceNotFoundException",
	"javax.management.AttributeNotFoundException",
	"javax.management.ReflectionException",
	"java.lang.NoSuchMethodException",
}

// classifyRemote maps a remote exception reported by the agent onto a failure kind
func classifyRemote(op string, status int, errorType, message string) *Error {
	err := fmt.Errorf("%s (status %d): %s", errorType, status, message)

	for _, t := range invalidArgumentTypes {
		if errorType == t {
			return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
		}
	}

	switch {
	case errorType == "java.lang.InterruptedException":
		return &Error{Op: op, Kind: ErrInterrupted, Err: err}
	case strings.HasPrefix(errorType, "java.io.") ||
		strings.HasPrefix(errorType, "java.rmi.") ||
		status == 503:
		// the agent is up but the node behind it is not answering
		return &Error{Op: op, Kind: ErrTransport, Err: err}
	}
	return &Error{Op: op, Kind: ErrRemote, Err: err}
}
