package core

import (
	"errors"
	"fmt"
)

// validTransitions defines the status changes this core performs.
// RESOLVED and IGNORED exist for external case workflow and are never
// entered or left here.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusNew:          {AlertStatusAcknowledged},
	AlertStatusAcknowledged: {},
	AlertStatusResolved:     {},
	AlertStatusIgnored:      {},
}

// TransitionTo validates and executes an alert state transition
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if newStatus == "" {
		return errors.New("new status cannot be empty")
	}

	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}

	if !a.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid transition: %s → %s (allowed: %v)", a.Status, newStatus, a.GetAllowedTransitions())
	}

	a.Status = newStatus
	return nil
}

// CanTransitionTo checks if a transition is allowed without executing it
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns all valid transitions from the current state
func (a *Alert) GetAllowedTransitions() []AlertStatus {
	allowedTransitions, exists := validTransitions[a.Status]
	if !exists {
		return []AlertStatus{}
	}

	// Return a copy to prevent external modification
	result := make([]AlertStatus, len(allowedTransitions))
	copy(result, allowedTransitions)
	return result
}

// IsFinalState reports whether no further transition is possible from the current status
func (a *Alert) IsFinalState() bool {
	return len(validTransitions[a.Status]) == 0
}
