// Package shared provides shared domain types and utilities.
package shared

import (
	"errors"
)

// Domain errors. Every error surfaced by the membership core wraps exactly
// one of these so callers can classify it with errors.Is.
var (
	// ErrNotFound is returned when an organization or membership reference does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the acting user lacks the required role or capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPolicyViolation is returned when an organization policy blocks a transition for a user.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrStateConflict is returned when a transition is invalid from the current status.
	ErrStateConflict = errors.New("state conflict")
	// ErrAutoscaleFailure is returned when a seat subscription update or its compensation fails.
	ErrAutoscaleFailure = errors.New("autoscale failure")
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation error")
)

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied checks if the error is a permission error.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsPolicyViolation checks if the error is a policy violation.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrPolicyViolation)
}

// IsStateConflict checks if the error is a state conflict.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsAutoscaleFailure checks if the error is an autoscale failure.
func IsAutoscaleFailure(err error) bool {
	return errors.Is(err, ErrAutoscaleFailure)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Message strips the sentinel prefix from a wrapped domain error so the
// remainder can be shown to an administrator as is.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{
		ErrNotFound, ErrPermissionDenied, ErrPolicyViolation,
		ErrStateConflict, ErrAutoscaleFailure, ErrValidation,
	} {
		prefix := sentinel.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
