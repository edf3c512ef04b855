package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSucceeded},
		{"timeout", NewFailure(ErrVerificationTimeout, "verify", "x", "", nil), OutcomeTimedOut},
		{"deployment", DeploymentFailure("deploy", "x", "", nil), OutcomeDeployFailed},
		{"validation", ValidationFailure("validate", "x", "", nil), OutcomeValidationFailed},
		{"transport", fmt.Errorf("wrapped: %w", ErrTransport), OutcomeTransportFailed},
		{"plain", errors.New("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeOf(tt.err))
		})
	}
}

func TestDeploymentRecord_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := DeploymentRecord{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, r.Duration())
}
