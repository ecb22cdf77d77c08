package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced posting, match, application or profile is absent.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the caller does not own the entity being mutated.
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFoundError names the missing entity while still matching ErrNotFound.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidTransitionError is returned by the status-update choke point when the
// state machine rejects a transition.
type InvalidTransitionError struct {
	ApplicationID string
	From          ApplicationStatus
	To            ApplicationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("application %s: transition %s -> %s is not allowed", e.ApplicationID, e.From, e.To)
}
