package verifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Strategy
// =============================================================================

type scriptedStrategy struct {
	mu           sync.Mutex
	script       []observeResult // consumed in order; the last entry repeats
	calls        int
	remediations int
	remediateErr error
	ctxErr       error // context error observed inside Remediate
}

type observeResult struct {
	obs verification.Observation
	err error
}

func (s *scriptedStrategy) Observe(ctx context.Context) (verification.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i].obs, s.script[i].err
}

func (s *scriptedStrategy) Predicates() verification.Predicates {
	return verification.StatusPredicates([]string{"STARTED"}, []string{"FAILED"})
}

func (s *scriptedStrategy) Remediate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remediations++
	s.ctxErr = ctx.Err()
	return s.remediateErr
}

func status(s string) observeResult {
	return observeResult{obs: verification.Observation{Present: true, Status: s}}
}

func newTestPoller(interval, timeout time.Duration) *Poller {
	return NewPoller(Config{Interval: interval, Timeout: timeout}, slog.Default())
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestVerify_ConfirmedImmediately(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("STARTED")}}

	res, err := newTestPoller(10*time.Millisecond, time.Second).Verify(context.Background(), "orders", s)
	require.NoError(t, err)
	assert.Equal(t, verification.PhaseConfirmed, res.Phase)
	assert.Equal(t, 1, res.Polls)
	assert.Zero(t, s.remediations)
}

func TestVerify_ConfirmedAfterPending(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{
		{obs: verification.Observation{}},
		status("DEPLOYING"),
		status("STARTED"),
	}}

	res, err := newTestPoller(5*time.Millisecond, time.Second).Verify(context.Background(), "orders", s)
	require.NoError(t, err)
	assert.Equal(t, verification.PhaseConfirmed, res.Phase)
	assert.Equal(t, 3, res.Polls)
}

func TestVerify_TerminalFailureIsImmediate(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("DEPLOYING"), status("FAILED")}}

	start := time.Now()
	res, err := newTestPoller(5*time.Millisecond, 10*time.Second).Verify(context.Background(), "orders", s)

	assert.Less(t, time.Since(start), 2*time.Second, "failure must not wait out the timeout")
	assert.Equal(t, verification.PhaseFailed, res.Phase)
	assert.ErrorIs(t, err, domain.ErrDeployment)
	assert.NotErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.Contains(t, err.Error(), verification.MessageFailed)
	assert.Zero(t, s.remediations, "remediation only runs on timeout")
}

func TestVerify_TimeoutRunsRemediationOnce(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("DEPLOYING")}}

	res, err := newTestPoller(5*time.Millisecond, 50*time.Millisecond).Verify(context.Background(), "orders", s)

	assert.Equal(t, verification.PhaseTimedOut, res.Phase)
	assert.True(t, res.Remediated)
	assert.Equal(t, 1, s.remediations)
	assert.ErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.NotErrorIs(t, err, domain.ErrDeployment)
	assert.Contains(t, err.Error(), verification.MessageTimedOut)
	assert.GreaterOrEqual(t, res.Elapsed, 50*time.Millisecond)
}

func TestVerify_RemediationFailureDoesNotChangeOutcome(t *testing.T) {
	s := &scriptedStrategy{
		script:       []observeResult{status("DEPLOYING")},
		remediateErr: errors.New("undeploy refused"),
	}

	res, err := newTestPoller(5*time.Millisecond, 30*time.Millisecond).Verify(context.Background(), "orders", s)

	assert.Equal(t, verification.PhaseTimedOut, res.Phase)
	assert.Equal(t, 1, s.remediations)
	assert.ErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.NotContains(t, err.Error(), "undeploy refused")
}

func TestVerify_RemediationGetsLiveContext(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("DEPLOYING")}}

	_, _ = newTestPoller(5*time.Millisecond, 20*time.Millisecond).Verify(context.Background(), "orders", s)

	require.Equal(t, 1, s.remediations)
	assert.NoError(t, s.ctxErr, "remediation must not inherit the expired deadline")
}

func TestVerify_ObservationErrorsAreRetried(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		status("STARTED"),
	}}

	res, err := newTestPoller(5*time.Millisecond, time.Second).Verify(context.Background(), "orders", s)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Polls)
}

func TestVerify_ObservationErrorsUntilTimeout(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{{err: errors.New("connection refused")}}}

	res, err := newTestPoller(5*time.Millisecond, 30*time.Millisecond).Verify(context.Background(), "orders", s)
	assert.Equal(t, verification.PhaseTimedOut, res.Phase)
	assert.ErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.Equal(t, 1, s.remediations)
}

func TestVerify_CallerCancellationIsNotATimeout(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("DEPLOYING")}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := newTestPoller(10*time.Millisecond, time.Hour).Verify(ctx, "orders", s)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrDeployment)
	assert.NotErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.Contains(t, err.Error(), verification.MessageCancelled)
	assert.NotContains(t, err.Error(), verification.MessageTimedOut)
	assert.Equal(t, verification.PhasePending, res.Phase)
	assert.False(t, res.Remediated)
	assert.Zero(t, s.remediations)
	assert.Less(t, res.Elapsed, time.Minute)
}

func TestVerify_CallerDeadlineIsNotATimeout(t *testing.T) {
	s := &scriptedStrategy{script: []observeResult{status("DEPLOYING")}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestPoller(10*time.Millisecond, time.Hour).Verify(ctx, "orders", s)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrVerificationTimeout)
	assert.Zero(t, s.remediations)
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(Config{Interval: time.Second, Timeout: time.Minute}, nil)
	assert.Equal(t, 30*time.Second, p.config.RemediationTimeout)
	assert.NotNil(t, p.logger)
}
