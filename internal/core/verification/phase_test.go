package verification

import (
	"errors"
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

var testPredicates = StatusPredicates([]string{"STARTED"}, []string{"DEPLOYMENT_FAILED", "FAILED"})

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want domain.DeploymentState
	}{
		{"absent", Observation{}, domain.StateNotPresent},
		{"running", Observation{Present: true, Status: "STARTED"}, domain.StateDeployedRunning},
		{"failed", Observation{Present: true, Status: "DEPLOYMENT_FAILED"}, domain.StateDeployedFailed},
		{"starting", Observation{Present: true, Status: "DEPLOYING"}, domain.StateUnknown},
		{"status without presence", Observation{Status: "STARTED"}, domain.StateNotPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(testPredicates, tt.obs))
		})
	}
}

func TestClassify_FailureWinsOverConfirmed(t *testing.T) {
	p := Predicates{
		IsConfirmed:       func(Observation) bool { return true },
		IsTerminalFailure: func(Observation) bool { return true },
	}
	assert.Equal(t, domain.StateDeployedFailed, Classify(p, Observation{Present: true}))
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestNext_FromPending(t *testing.T) {
	assert.Equal(t, PhaseConfirmed, Next(PhasePending, domain.StateDeployedRunning))
	assert.Equal(t, PhaseFailed, Next(PhasePending, domain.StateDeployedFailed))
	assert.Equal(t, PhasePending, Next(PhasePending, domain.StateUnknown))
	assert.Equal(t, PhasePending, Next(PhasePending, domain.StateNotPresent))
}

func TestNext_TerminalPhasesAreSticky(t *testing.T) {
	for _, p := range []Phase{PhaseConfirmed, PhaseFailed, PhaseTimedOut} {
		assert.Equal(t, p, Next(p, domain.StateDeployedRunning))
		assert.Equal(t, p, Next(p, domain.StateDeployedFailed))
		assert.Equal(t, p, Expire(p))
	}
}

func TestExpire_FromPending(t *testing.T) {
	assert.Equal(t, PhaseTimedOut, Expire(PhasePending))
}

func TestPhase_IsTerminal(t *testing.T) {
	assert.False(t, PhasePending.IsTerminal())
	assert.True(t, PhaseConfirmed.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.True(t, PhaseTimedOut.IsTerminal())
}

// =============================================================================
// Outcome Tests
// =============================================================================

func TestOutcome_Confirmed(t *testing.T) {
	assert.NoError(t, Outcome(PhaseConfirmed, "orders on agent", Observation{}))
}

func TestOutcome_FailedAndTimedOutAreDistinct(t *testing.T) {
	failed := Outcome(PhaseFailed, "orders on agent", Observation{Present: true, Status: "FAILED"})
	timedOut := Outcome(PhaseTimedOut, "orders on agent", Observation{Present: true, Status: "DEPLOYING"})

	assert.ErrorIs(t, failed, domain.ErrDeployment)
	assert.NotErrorIs(t, failed, domain.ErrVerificationTimeout)
	assert.Contains(t, failed.Error(), MessageFailed)
	assert.Contains(t, failed.Error(), "FAILED")

	assert.ErrorIs(t, timedOut, domain.ErrVerificationTimeout)
	assert.NotErrorIs(t, timedOut, domain.ErrDeployment)
	assert.Contains(t, timedOut.Error(), MessageTimedOut)

	assert.NotEqual(t, failed.Error(), timedOut.Error())
}

func TestOutcome_IncludesDetail(t *testing.T) {
	err := Outcome(PhaseFailed, "orders", Observation{Present: true, Status: "FAILED", Detail: "port in use"})

	var f *domain.Failure
	assert.True(t, errors.As(err, &f))
	assert.Equal(t, "orders", f.Subject)
	assert.Contains(t, f.Message, "port in use")
}
