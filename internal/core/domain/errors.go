package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// Failure kinds. Every error returned by the deployer carries exactly one of
// these, so callers can branch with errors.Is regardless of the cause chain.
var (
	// ErrTransport is a network or HTTP layer fault.
	ErrTransport = errors.New("transport fault")

	// ErrValidation covers incompatible or unresolvable runtime versions
	// and invalid deployment configuration.
	ErrValidation = errors.New("validation failure")

	// ErrDeployment means the target rejected the artifact or reported a failed state.
	ErrDeployment = errors.New("deployment failure")

	// ErrVerificationTimeout means the target never confirmed the deployment in time.
	ErrVerificationTimeout = errors.New("verification timeout")

	// ErrPackaging means the plugin set cannot be packaged together.
	ErrPackaging = errors.New("packaging incompatibility")

	// ErrResolution means the dependency graph could not be resolved.
	ErrResolution = errors.New("resolution failure")
)

// Failure wraps an error with its kind and the artifact, plugin or target it concerns.
type Failure struct {
	Kind    error  // One of the Err* kinds above
	Op      string // Operation that failed, e.g. "deploy"
	Subject string // Artifact, plugin or target the failure is about
	Message string
	Err     error
}

func (e *Failure) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause.
func (e *Failure) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewFailure creates a new Failure.
func NewFailure(kind error, op, subject, message string, err error) *Failure {
	return &Failure{
		Kind:    kind,
		Op:      op,
		Subject: subject,
		Message: message,
		Err:     err,
	}
}

// ValidationFailure is shorthand for NewFailure(ErrValidation, ...).
func ValidationFailure(op, subject, message string, err error) *Failure {
	return NewFailure(ErrValidation, op, subject, message, err)
}

// DeploymentFailure is shorthand for NewFailure(ErrDeployment, ...).
func DeploymentFailure(op, subject, message string, err error) *Failure {
	return NewFailure(ErrDeployment, op, subject, message, err)
}

// KindOf returns the failure kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrVerificationTimeout,
		ErrDeployment,
		ErrValidation,
		ErrPackaging,
		ErrResolution,
		ErrTransport,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
