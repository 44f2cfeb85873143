package session

import (
	"fmt"

	"github.com/brianly1003/cbridge/internal/domain"
)

// transitions lists the allowed status changes other than into offline,
// which is reachable from every state.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusIdle:              {domain.StatusWorking, domain.StatusWaitingPermission},
	domain.StatusWorking:           {domain.StatusIdle, domain.StatusWaitingPermission},
	domain.StatusWaitingPermission: {domain.StatusWorking, domain.StatusIdle},
}

// CanTransition reports whether a session may move from one status to another.
// Offline is absorbing.
func CanTransition(from, to domain.Status) bool {
	if from == domain.StatusOffline {
		return false
	}
	if to == domain.StatusOffline {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition for a disallowed change.
// Staying in the same state is not an error.
func checkTransition(from, to domain.Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	if from == to && from != domain.StatusOffline {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}
