// Package verification contains the pure post-deploy verification state machine.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// A verification starts pending once a deployer has returned successfully and
// ends in exactly one terminal phase:
//
//	pending → confirmed   target reports the artifact running
//	pending → failed      target reports a terminal failure signature
//	pending → timed-out   the time budget elapsed first
//
// The shell (internal/shell/verifier) drives the polling; this package only
// decides transitions and outcome errors.
package verification

import (
	"github.com/artpar/deployer/internal/core/domain"
)

// Outcome messages. They are deliberately distinct so callers can tell a
// deployment that never started from one that started and then failed.
const (
	MessageFailed   = "deployment has failed"
	MessageTimedOut = "deployment verification has timed out"

	// MessageCancelled is used when the caller cancels polling before the
	// verification's own deadline. The deployment outcome is then unknown.
	MessageCancelled = "deployment verification was cancelled"
)

// =============================================================================
// Phases
// =============================================================================

// Phase is the verification state.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
	PhaseTimedOut  Phase = "timed-out"
)

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed || p == PhaseTimedOut
}

// =============================================================================
// Observations
// =============================================================================

// Observation is what a target reported on one poll.
type Observation struct {
	// Present is false when the target does not know the artifact at all.
	Present bool
	// Status is the raw, target-specific status string.
	Status string
	// Detail carries any diagnostic text the target returned.
	Detail string
}

// Predicates are the target-specific tests applied to an observation.
type Predicates struct {
	IsConfirmed       func(Observation) bool
	IsTerminalFailure func(Observation) bool
}

// StatusPredicates builds predicates that match raw status strings.
//
// Example:
//
//	p := StatusPredicates([]string{"STARTED"}, []string{"DEPLOYMENT_FAILED"})
func StatusPredicates(confirmed, failed []string) Predicates {
	return Predicates{
		IsConfirmed: func(o Observation) bool {
			return o.Present && contains(confirmed, o.Status)
		},
		IsTerminalFailure: func(o Observation) bool {
			return o.Present && contains(failed, o.Status)
		},
	}
}

// Classify derives the transient DeploymentState of an observation.
// A terminal failure wins over confirmation if a target reports both.
func Classify(p Predicates, o Observation) domain.DeploymentState {
	switch {
	case p.IsTerminalFailure(o):
		return domain.StateDeployedFailed
	case p.IsConfirmed(o):
		return domain.StateDeployedRunning
	case !o.Present:
		return domain.StateNotPresent
	default:
		return domain.StateUnknown
	}
}

// =============================================================================
// Transitions
// =============================================================================

// Next returns the phase after one observation.
// Terminal phases never change.
func Next(current Phase, state domain.DeploymentState) Phase {
	if current.IsTerminal() {
		return current
	}
	switch state {
	case domain.StateDeployedFailed:
		return PhaseFailed
	case domain.StateDeployedRunning:
		return PhaseConfirmed
	default:
		return PhasePending
	}
}

// Expire returns the phase once the time budget has elapsed.
func Expire(current Phase) Phase {
	if current.IsTerminal() {
		return current
	}
	return PhaseTimedOut
}

// Outcome converts a terminal phase into the error surfaced to callers.
// Confirmed returns nil.
func Outcome(p Phase, subject string, last Observation) error {
	switch p {
	case PhaseConfirmed:
		return nil
	case PhaseFailed:
		return domain.NewFailure(domain.ErrDeployment, "verify", subject, withDetail(MessageFailed, last), nil)
	case PhaseTimedOut:
		return domain.NewFailure(domain.ErrVerificationTimeout, "verify", subject, withDetail(MessageTimedOut, last), nil)
	default:
		return domain.NewFailure(domain.ErrDeployment, "verify", subject, "verification did not reach a terminal phase", nil)
	}
}

func withDetail(msg string, o Observation) string {
	if o.Status != "" {
		msg += " (last status " + o.Status + ")"
	}
	if o.Detail != "" {
		msg += ": " + o.Detail
	}
	return msg
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
