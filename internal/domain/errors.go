package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks malformed or incomplete job payloads.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for jobs the queue does not know.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDelivery marks exhausted provider attempts.
	ErrDelivery = errors.New("delivery failed")
)

// ValidationErrors collects every violated rule of a job payload so a caller
// can fix all of them in one round trip.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	return "invalid payload: " + strings.Join(e, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for accumulated violations.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Details returns the individual rule violations.
func (e ValidationErrors) Details() []string {
	return []string(e)
}
