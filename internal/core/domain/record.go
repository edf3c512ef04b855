package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Deployment Record
// =============================================================================

// Operation is what a recorded run did.
type Operation string

const (
	OperationDeploy   Operation = "deploy"
	OperationUndeploy Operation = "undeploy"
	OperationVerify   Operation = "verify"
)

// Outcome is how a recorded run ended.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeValidationFailed Outcome = "validation-failed"
	OutcomeDeployFailed     Outcome = "deployment-failed"
	OutcomeTimedOut         Outcome = "timed-out"
	OutcomeTransportFailed  Outcome = "transport-failed"
	OutcomeFailed           Outcome = "failed"
)

// OutcomeOf maps a run's error to its outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}
	switch kind := KindOf(err); {
	case errors.Is(kind, ErrVerificationTimeout):
		return OutcomeTimedOut
	case errors.Is(kind, ErrDeployment):
		return OutcomeDeployFailed
	case errors.Is(kind, ErrValidation):
		return OutcomeValidationFailed
	case errors.Is(kind, ErrTransport):
		return OutcomeTransportFailed
	default:
		return OutcomeFailed
	}
}

// DeploymentRecord is the audit entry of one finished run. Records are
// written once and never used to resume work.
type DeploymentRecord struct {
	ID              string
	Operation       Operation
	Target          TargetType
	ApplicationName string
	Artifact        string // Coordinate string or file path
	RuntimeVersion  string
	Outcome         Outcome
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns how long the run took.
func (r DeploymentRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
