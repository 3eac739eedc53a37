package a2a

import (
	"errors"
	"fmt"

	"github.com/tandem-dev/tandem/pkg/models"
)

// ErrNoConsent indicates no effective consent covers a delegated task.
var ErrNoConsent = errors.New("no consent")

// ErrAgentInactive indicates a delegation endpoint referenced a deactivated agent.
var ErrAgentInactive = errors.New("agent is deactivated")

// InvalidTransitionError indicates an attempted state change the protocol
// does not allow, such as re-delivering a terminal task.
type InvalidTransitionError struct {
	TaskUID string
	From    models.A2ATaskStatus
	To      models.A2ATaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskUID, e.From, e.To)
}

// TransportError indicates delivery to the performing agent failed at the
// transport layer.
type TransportError struct {
	Agent string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.Agent, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError indicates the performing agent did not respond before the
// task deadline.
type TimeoutError struct {
	TaskUID string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: deadline exceeded", e.TaskUID)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
