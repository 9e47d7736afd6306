package job

import (
	"errors"

	"routeworker/internal/opt"
)

var (
	// ErrParse marks a payload that can never be processed. Permanent.
	ErrParse = errors.New("job: invalid request")
	// ErrSolve marks a valid request the solver could not route. Permanent.
	ErrSolve = errors.New("job: solve failed")
	// ErrTransport marks a reply that could not be handed to the broker. Transient.
	ErrTransport = errors.New("job: reply not published")
)

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked    Outcome = "acked"
	OutcomeRejected Outcome = "rejected"
	OutcomeRequeued Outcome = "requeued"
)

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrParse), errors.Is(err, ErrSolve):
		return true
	case errors.Is(err, opt.ErrNoStops), errors.Is(err, opt.ErrNoDrivers), errors.Is(err, opt.ErrNoRoute):
		return true
	}
	return false
}

// Classify maps a processing error to the settlement it requires.
// Everything not known to be permanent is requeued, including cancellation.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAcked
	case Permanent(err):
		return OutcomeRejected
	default:
		return OutcomeRequeued
	}
}
