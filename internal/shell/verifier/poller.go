// Package verifier drives post-deploy verification against a live target.
// This is part of the Imperative Shell - it blocks and polls over the network.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
)

// Strategy is the target-specific part of verification: how to observe the
// deployment, how to read an observation, and what to do on timeout.
type Strategy interface {
	// Observe fetches the current state of the deployment. Errors are
	// treated as "not yet known" and the poll is retried.
	Observe(ctx context.Context) (verification.Observation, error)

	// Predicates returns the target's confirmed / terminal-failure tests.
	Predicates() verification.Predicates

	// Remediate runs once after a timeout, e.g. to undeploy a half-applied
	// artifact or fetch final diagnostics. Its errors are only logged.
	Remediate(ctx context.Context) error
}

// Config configures a Poller.
type Config struct {
	// Interval is the time between polls.
	Interval time.Duration

	// Timeout bounds the whole verification.
	Timeout time.Duration

	// RemediationTimeout bounds the remediation hook.
	// Default: 30 seconds.
	RemediationTimeout time.Duration
}

// Result describes how a verification ended.
type Result struct {
	Phase      verification.Phase
	Polls      int
	Last       verification.Observation
	Remediated bool
	Elapsed    time.Duration
}

// Poller polls a Strategy until the deployment is confirmed, fails, or the
// timeout elapses. It is the only place in the deployer that suspends.
type Poller struct {
	config Config
	logger *slog.Logger
}

// NewPoller creates a poller.
func NewPoller(config Config, logger *slog.Logger) *Poller {
	if config.RemediationTimeout == 0 {
		config.RemediationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		config: config,
		logger: logger.With("component", "verifier"),
	}
}

// Verify blocks until a terminal phase is reached. It returns nil when the
// deployment is confirmed, a DeploymentFailure when the target reports a
// terminal failure, and a VerificationTimeout failure when Config.Timeout
// elapses. Cancelling ctx returns a DeploymentFailure wrapping ctx.Err()
// with the phase left pending and no remediation.
func (p *Poller) Verify(ctx context.Context, subject string, s Strategy) (Result, error) {
	logger := p.logger.With("subject", subject)
	preds := s.Predicates()
	start := time.Now()

	res := Result{Phase: verification.PhasePending}

	err := wait.PollUntilContextTimeout(ctx, p.config.Interval, p.config.Timeout, true,
		func(ctx context.Context) (bool, error) {
			res.Polls++
			obs, err := s.Observe(ctx)
			if err != nil {
				logger.Warn("verification poll failed", "poll", res.Polls, "error", err)
				return false, nil
			}
			res.Last = obs

			state := verification.Classify(preds, obs)
			res.Phase = verification.Next(res.Phase, state)
			logger.Debug("verification poll",
				"poll", res.Polls,
				"status", obs.Status,
				"state", state,
				"phase", res.Phase,
			)
			return res.Phase.IsTerminal(), nil
		})
	res.Elapsed = time.Since(start)

	// Only the poller's own deadline counts as a timeout. A cancelled caller
	// context leaves the outcome unknown and must not trigger remediation.
	if !res.Phase.IsTerminal() && ctx.Err() != nil {
		logger.Warn("verification cancelled", "polls", res.Polls, "elapsed", res.Elapsed, "error", ctx.Err())
		return res, domain.DeploymentFailure("verify", subject, verification.MessageCancelled, ctx.Err())
	}

	if err != nil && !wait.Interrupted(err) {
		return res, domain.DeploymentFailure("verify", subject, "verification aborted", err)
	}

	if !res.Phase.IsTerminal() {
		res.Phase = verification.Expire(res.Phase)
		res.Remediated = true
		p.remediate(ctx, logger, s)
	}

	logger.Info("verification finished",
		"phase", res.Phase,
		"polls", res.Polls,
		"elapsed", res.Elapsed,
	)
	return res, verification.Outcome(res.Phase, subject, res.Last)
}

// remediate runs the hook exactly once on a context detached from the
// expired verification deadline.
func (p *Poller) remediate(ctx context.Context, logger *slog.Logger, s Strategy) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.RemediationTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("remediation panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := s.Remediate(rctx); err != nil {
		logger.Warn("remediation failed", "error", err)
		return
	}
	logger.Info("remediation completed")
}
