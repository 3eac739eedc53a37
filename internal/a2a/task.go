// Package a2a implements the agent-to-agent delegation protocol: a consent
// gated state machine over delegated tasks, artifact exchange, and delivery
// with idempotent retries.
package a2a

import "github.com/tandem-dev/tandem/pkg/models"

// transitions is the full protocol state machine:
//
//	created -> pending_consent -> authorized -> running -> {completed, failed}
//	                           \-> rejected
//
// Terminal states have no outgoing edges.
var transitions = map[models.A2ATaskStatus][]models.A2ATaskStatus{
	models.A2ACreated:        {models.A2APendingConsent},
	models.A2APendingConsent: {models.A2AAuthorized, models.A2ARejected},
	models.A2AAuthorized:     {models.A2ARunning, models.A2ARejected},
	models.A2ARunning:        {models.A2ACompleted, models.A2AFailed},
}

// ValidTransition reports whether the protocol allows moving from one
// status to another.
func ValidTransition(from, to models.A2ATaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
