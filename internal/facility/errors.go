package facility

import (
	"errors"
	"fmt"
)

// Error is a failure detected while building or running a facility.
//
// Configuration errors stop a run before its first timestep. Runtime errors
// stop it at the timestep where they occur; neither is retried.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Facility is the prototype name of the offending facility.
	Facility string

	// Stream names the offending stream or commodity, when there is one.
	Stream string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes facility errors.
type ErrorCode string

const (
	// ErrCodeEfficiencyBudget indicates that efficiencies for a component sum
	// past 1 and the Fuel stream cannot absorb the excess.
	ErrCodeEfficiencyBudget ErrorCode = "EFFICIENCY_BUDGET"

	// ErrCodeStreamCollision indicates a stream name that clashes with the
	// leftover commodity or a reserved inventory name.
	ErrCodeStreamCollision ErrorCode = "STREAM_COLLISION"

	// ErrCodeInvalidConfig covers every other setup problem.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeInvalidCommodity indicates a matched trade on a commodity the
	// facility does not hold.
	ErrCodeInvalidCommodity ErrorCode = "INVALID_COMMODITY"

	// ErrCodeCapacity indicates a buffer push past its capacity.
	ErrCodeCapacity ErrorCode = "CAPACITY_EXCEEDED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Facility != "" && e.Stream != "":
		msg = fmt.Sprintf("%s (facility=%s, stream=%s)", msg, e.Facility, e.Stream)
	case e.Facility != "":
		msg = fmt.Sprintf("%s (facility=%s)", msg, e.Facility)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsConfigError returns true if err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case ErrCodeEfficiencyBudget, ErrCodeStreamCollision, ErrCodeInvalidConfig:
			return true
		}
	}
	return false
}

// IsRuntimeError returns true if err is a runtime error raised during a
// timestep.
func IsRuntimeError(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case ErrCodeInvalidCommodity, ErrCodeCapacity:
			return true
		}
	}
	return false
}

// HasCode reports whether err is a facility error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

func configError(facility, format string, args ...any) *Error {
	return &Error{
		Code:     ErrCodeInvalidConfig,
		Message:  fmt.Sprintf(format, args...),
		Facility: facility,
	}
}

// NewBudgetError creates an error for an efficiency sum past 1.
func NewBudgetError(facility, component string, total float64) *Error {
	return &Error{
		Code:     ErrCodeEfficiencyBudget,
		Message:  fmt.Sprintf("total efficiency of separations streams is greater than 1 for %s (%g)", component, total),
		Facility: facility,
		Details: map[string]string{
			"component": component,
			"total":     fmt.Sprintf("%g", total),
		},
	}
}

// NewCommodityError creates an error for a trade on an unknown commodity.
func NewCommodityError(facility, commodity string) *Error {
	return &Error{
		Code:     ErrCodeInvalidCommodity,
		Message:  fmt.Sprintf("invalid commodity %s on trade matched to prototype %s", commodity, facility),
		Facility: facility,
		Stream:   commodity,
	}
}

func capacityError(facility, buffer string, err error) *Error {
	return &Error{
		Code:     ErrCodeCapacity,
		Message:  fmt.Sprintf("buffer %s overflow", buffer),
		Facility: facility,
		Stream:   buffer,
		Err:      err,
	}
}
