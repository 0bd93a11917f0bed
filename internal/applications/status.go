package applications

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Status is the lifecycle state of an Application.
//
//	APPLIED ──► REVIEWING ──► INTERVIEW ──► OFFER ──► HIRED
//	   │            │             │           │
//	   └────────────┴─────────────┴───────────┴──► REJECTED
//
// HIRED and REJECTED are terminal.
type Status string

const (
	StatusApplied   Status = "APPLIED"
	StatusReviewing Status = "REVIEWING"
	StatusInterview Status = "INTERVIEW"
	StatusOffer     Status = "OFFER"
	StatusHired     Status = "HIRED"
	StatusRejected  Status = "REJECTED"
)

var validTransitions = map[Status][]Status{
	StatusApplied:   {StatusReviewing, StatusRejected},
	StatusReviewing: {StatusInterview, StatusRejected},
	StatusInterview: {StatusOffer, StatusRejected},
	StatusOffer:     {StatusHired, StatusRejected},
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch st {
	case StatusApplied, StatusReviewing, StatusInterview, StatusOffer, StatusHired, StatusRejected:
		return st, nil
	}
	return "", errors.Newf("unknown application status %q", raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusHired || s == StatusRejected
}

// StatusGuard validates status-change edges.
type StatusGuard struct{}

// Validate returns an ErrInvalidTransition-marked error unless current → target is an allowed edge.
func (StatusGuard) Validate(current, target Status) error {
	if current == target {
		return errors.Mark(errors.Newf("status is already %s", current), ErrInvalidTransition)
	}
	if current.Terminal() {
		return errors.Mark(errors.Newf("cannot change status from terminal state %s", current), ErrInvalidTransition)
	}
	for _, next := range validTransitions[current] {
		if next == target {
			return nil
		}
	}
	return errors.Mark(errors.Newf("invalid status transition from %s to %s", current, target), ErrInvalidTransition)
}

// IsValid is the predicate form of Validate.
func (g StatusGuard) IsValid(current, target Status) bool {
	return g.Validate(current, target) == nil
}
