package core

import (
	"errors"
	"fmt"
)

// Class identifies which bucket of the error taxonomy an error belongs to.
// The propagation policy at a turn boundary picks the worst class among all
// errors joined during that turn.
type Class int

const (
	// ClassNone marks the zero value; no error occurred.
	ClassNone Class = iota
	// ClassCancelled is a cooperative cancellation signal; unwind quietly.
	ClassCancelled
	// ClassTransientNetwork is a recoverable collaborator failure; surface
	// as a degraded turn but keep the session alive.
	ClassTransientNetwork
	// ClassToolError is a tool execution failure returned as a result.
	ClassToolError
	// ClassProtocolViolation is a malformed-frame collaborator failure; reset
	// that collaborator's connection.
	ClassProtocolViolation
	// ClassInvalidTransition is a programmer error in the state machine.
	ClassInvalidTransition
	// ClassConfigError is a missing/invalid configuration value; fatal at
	// startup only.
	ClassConfigError
	// ClassResourceExhaustion is an overload condition (queue/pool); degrade
	// and log.
	ClassResourceExhaustion
)

func (c Class) String() string {
	switch c {
	case ClassCancelled:
		return "cancelled"
	case ClassTransientNetwork:
		return "transient_network"
	case ClassToolError:
		return "tool_error"
	case ClassProtocolViolation:
		return "protocol_violation"
	case ClassInvalidTransition:
		return "invalid_transition"
	case ClassConfigError:
		return "config_error"
	case ClassResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "none"
	}
}

// severity ranks classes so Join can report "the worst class wins".
// Higher is worse.
func (c Class) severity() int {
	switch c {
	case ClassCancelled:
		return 1
	case ClassTransientNetwork:
		return 2
	case ClassToolError:
		return 2
	case ClassResourceExhaustion:
		return 3
	case ClassProtocolViolation:
		return 4
	case ClassConfigError:
		return 5
	case ClassInvalidTransition:
		return 6
	default:
		return 0
	}
}

// ClassifiedError wraps an underlying error with a taxonomy class.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func newErr(class Class, format string, args ...any) error {
	return &ClassifiedError{Class: class, Err: fmt.Errorf(format, args...)}
}

// ErrTransientNetwork wraps a recoverable collaborator failure.
func ErrTransientNetwork(format string, args ...any) error {
	return newErr(ClassTransientNetwork, format, args...)
}

// ErrProtocolViolation wraps a malformed-frame collaborator failure.
func ErrProtocolViolation(format string, args ...any) error {
	return newErr(ClassProtocolViolation, format, args...)
}

// ErrCancelled wraps a cooperative cancellation.
func ErrCancelled(format string, args ...any) error {
	return newErr(ClassCancelled, format, args...)
}

// ErrInvalidTransition wraps a state-machine programmer error.
func ErrInvalidTransition(format string, args ...any) error {
	return newErr(ClassInvalidTransition, format, args...)
}

// ErrConfig wraps a missing/invalid configuration error.
func ErrConfig(format string, args ...any) error {
	return newErr(ClassConfigError, format, args...)
}

// ErrResourceExhaustion wraps an overload condition.
func ErrResourceExhaustion(format string, args ...any) error {
	return newErr(ClassResourceExhaustion, format, args...)
}

// ClassOf extracts the taxonomy class of err, walking the unwrap chain.
// Returns ClassNone if err is nil or carries no classification.
func ClassOf(err error) Class {
	if err == nil {
		return ClassNone
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassNone
}

// JoinTurnErrors joins zero or more errors raised within a single turn's
// producer/consumer tasks, reporting the worst class among them alongside
// the combined message. Returns nil if every error is nil.
func JoinTurnErrors(errs ...error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	worst := ClassNone
	for _, err := range errs {
		if err == nil {
			continue
		}
		if c := ClassOf(err); c.severity() > worst.severity() {
			worst = c
		}
	}
	if worst == ClassNone {
		return joined
	}
	return &ClassifiedError{Class: worst, Err: joined}
}
