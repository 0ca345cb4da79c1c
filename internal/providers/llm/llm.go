package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is one structured-output generation call: system instructions,
// a user payload, and a sampling temperature. The model is expected to
// return a single JSON object.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
}

type Provider interface {
	// GenerateJSON returns the raw JSON object bytes produced by the model.
	GenerateJSON(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// FailureClass splits provider errors for the retry harness: transient
// failures (timeouts, 5xx, malformed bodies) are retried with backoff,
// terminal failures (provider rate/quota limits) surface immediately.
type FailureClass int

const (
	FailureTransient FailureClass = iota
	FailureTerminal
)

type CallError struct {
	Class FailureClass
	Err   error
}

func (e *CallError) Error() string {
	if e.Class == FailureTerminal {
		return fmt.Sprintf("llm terminal failure: %v", e.Err)
	}
	return fmt.Sprintf("llm transient failure: %v", e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func Transient(err error) error {
	return &CallError{Class: FailureTransient, Err: err}
}

func Terminal(err error) error {
	return &CallError{Class: FailureTerminal, Err: err}
}

// IsTerminal reports whether err is a terminal provider failure. Anything
// else coming out of a provider call is treated as retriable.
func IsTerminal(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Class == FailureTerminal
}

// IsTransient reports whether err is a retriable external-call failure.
// Only these enter the retry loop; everything else fails the task at once.
func IsTransient(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Class == FailureTransient
}
