package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminal is returned when a Routed or Failed record is passed to Route
	ErrTerminal = errors.New("notification has already been routed or failed")
	// ErrNoQualifiedSubscribers is the outcome of a routing run where nobody matched
	ErrNoQualifiedSubscribers = errors.New("no qualified subscribers")
	// ErrSubscriberNotFound is returned by Preview for an unknown subscriber
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrStageOrder is returned when a run is asked to revisit a stage it has passed
	ErrStageOrder = errors.New("routing stages cannot move backwards")
)

// ExtractionError is a malformed or unreadable content package
type ExtractionError struct {
	NotificationID string
	Format         string
	Err            error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("notification %s: extracting %q package: %v", e.NotificationID, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EligibilityLookupError is an unreachable license register or subscriber store
type EligibilityLookupError struct {
	NotificationID string
	Err            error
}

func (e *EligibilityLookupError) Error() string {
	return fmt.Sprintf("notification %s: eligibility lookup: %v", e.NotificationID, e.Err)
}

func (e *EligibilityLookupError) Unwrap() error { return e.Err }

// PersistenceError is a failed write to the Store
type PersistenceError struct {
	NotificationID string
	Stage          Stage
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("notification %s: persisting during %s: %v", e.NotificationID, e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// panicError wraps a value recovered from a panicking stage
type panicError struct {
	stage Stage
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s stage panicked: %v", e.stage, e.value)
}

// IsStalled reports whether err describes an infrastructure failure that a later
// routing attempt may not hit again
func IsStalled(err error) bool {
	var (
		lookup  *EligibilityLookupError
		persist *PersistenceError
		p       *panicError
	)
	return errors.As(err, &lookup) || errors.As(err, &persist) || errors.As(err, &p)
}
