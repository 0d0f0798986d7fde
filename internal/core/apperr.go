package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the task driver needs to react to it,
// without parsing error strings at every call site.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindEnvironment   Kind = "environment"
	KindNetwork       Kind = "network"
	KindSubprocess    Kind = "subprocess"
	KindProtocol      Kind = "protocol"
	KindIntegrity     Kind = "integrity"
	KindSemantic      Kind = "semantic"
	KindCancellation  Kind = "cancellation"
	KindConcurrency   Kind = "concurrency"
)

// AppError wraps an underlying error with a Kind so callers can branch on
// failure class (e.g. the device object branches on a semantic
// "package not installed" result differently than a subprocess timeout).
type AppError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *AppError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// Wrap annotates err with a kind and operation name. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Kind: kind, Op: op, Err: err}
}

// ErrKind extracts the Kind from err, defaulting to KindSemantic when the
// error was not produced via Wrap.
func ErrKind(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindSemantic
}
