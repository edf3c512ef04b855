package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/targets"
)

// =============================================================================
// Fake Target
// =============================================================================

type fakeTarget struct {
	mu sync.Mutex

	versions  []string
	deployErr error
	statuses  []string // observed in order; the last repeats
	calls     []string

	deployDelay time.Duration
	active      *int32
	maxActive   *int32
}

func (f *fakeTarget) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTarget) Type() domain.TargetType { return domain.TargetAgent }

func (f *fakeTarget) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	f.note("resolve")
	return domain.NewSupportedVersions(f.versions...)
}

func (f *fakeTarget) DeployApplication(ctx context.Context, a domain.Artifact) error {
	f.note("deploy-application")
	if f.active != nil {
		n := atomic.AddInt32(f.active, 1)
		for {
			m := atomic.LoadInt32(f.maxActive)
			if n <= m || atomic.CompareAndSwapInt32(f.maxActive, m, n) {
				break
			}
		}
		time.Sleep(f.deployDelay)
		atomic.AddInt32(f.active, -1)
	}
	return f.deployErr
}

func (f *fakeTarget) UndeployApplication(ctx context.Context) error {
	f.note("undeploy-application")
	return nil
}

func (f *fakeTarget) DeployDomain(ctx context.Context, a domain.Artifact) error {
	f.note("deploy-domain")
	return f.deployErr
}

func (f *fakeTarget) UndeployDomain(ctx context.Context) error {
	f.note("undeploy-domain")
	return nil
}

func (f *fakeTarget) Observe(ctx context.Context) (verification.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "observe")
	s := "STARTED"
	if len(f.statuses) > 0 {
		s = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	return verification.Observation{Present: true, Status: s}, nil
}

func (f *fakeTarget) Predicates() verification.Predicates {
	return verification.StatusPredicates([]string{"STARTED"}, []string{"FAILED"})
}

func (f *fakeTarget) Remediate(ctx context.Context) error {
	f.note("remediate")
	return nil
}

func (f *fakeTarget) has(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig() domain.DeploymentConfiguration {
	return domain.DeploymentConfiguration{
		Target:          domain.TargetAgent,
		ApplicationName: "orders",
		Artifact: domain.Artifact{
			Path: "/tmp/orders.jar",
			Kind: domain.ArtifactApplication,
			Coordinate: domain.ArtifactCoordinate{
				GroupID: "com.acme", ArtifactID: "orders", Version: "1.0.0", Type: "jar",
			},
		},
		RuntimeVersion: "4.6.0",
		Timeout:        200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		Agent:          domain.AgentSettings{BaseURI: "http://agent.local:7777"},
	}
}

func newTestRunner(t *testing.T, target *fakeTarget) (*Runner, *store.SQLiteStore, *int) {
	t.Helper()
	history, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	factoryCalls := 0
	factory := func(cfg domain.DeploymentConfiguration) (targets.Target, error) {
		factoryCalls++
		return target, nil
	}
	return NewRunner(factory, history, DefaultConfig(), slog.Default()), history, &factoryCalls
}

func lastRecord(t *testing.T, history store.Store) domain.DeploymentRecord {
	t.Helper()
	recs, err := history.ListDeployments(context.Background(), store.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_Success(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}, statuses: []string{"DEPLOYING", "STARTED"}}
	runner, history, _ := newTestRunner(t, target)

	res := runner.Run(context.Background(), testConfig())
	require.NoError(t, res.Err)
	assert.True(t, res.Verified)
	assert.Equal(t, verification.PhaseConfirmed, res.Verification.Phase)
	assert.Equal(t, []string{"4.6.0"}, res.Supported)
	assert.Equal(t, []string{"resolve", "deploy-application", "observe", "observe"}, target.calls)

	rec := lastRecord(t, history)
	assert.Equal(t, res.RunID, rec.ID)
	assert.Equal(t, domain.OutcomeSucceeded, rec.Outcome)
	assert.Equal(t, domain.OperationDeploy, rec.Operation)
	assert.Equal(t, "com.acme:orders:1.0.0:jar", rec.Artifact)
}

func TestRun_VersionMismatchNeverDeploys(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.4.0"}}
	runner, history, _ := newTestRunner(t, target)

	res := runner.Run(context.Background(), testConfig())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.Contains(t, res.Err.Error(), "4.4.0")
	assert.Equal(t, []string{"resolve"}, target.calls, "no deploy request after a failed validation")

	assert.Equal(t, domain.OutcomeValidationFailed, lastRecord(t, history).Outcome)
}

func TestRun_ArtifactVersionWinsOverRequested(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Artifact.RequiredRuntimeVersion = "4.9.0"

	res := runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.False(t, target.has("deploy-application"))
}

func TestRun_SemverLinePolicy(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.3"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.RuntimeVersion = "4.6.0"
	cfg.VersionMatch = domain.VersionMatchSemverLine

	res := runner.Run(context.Background(), cfg)
	require.NoError(t, res.Err)
}

func TestRun_UnknownPolicy(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.VersionMatch = "fuzzy"

	res := runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.False(t, target.has("deploy-application"))
}

func TestRun_InvalidConfigurationNeverBuildsTarget(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	runner, _, factoryCalls := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Agent.BaseURI = ""

	res := runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.ErrorIs(t, res.Err, domain.ErrBaseURIRequired)
	assert.Zero(t, *factoryCalls)
}

func TestRun_PluginCoordinateNeverDeploys(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	runner, _, factoryCalls := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Artifact.Coordinate.Classifier = domain.ClassifierPlugin

	res := runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.ErrorIs(t, res.Err, domain.ErrInvalidClassifier)
	assert.Zero(t, *factoryCalls)
	assert.False(t, target.has("deploy-application"))
}

func TestRun_DeployFailureSkipsVerification(t *testing.T) {
	target := &fakeTarget{
		versions:  []string{"4.6.0"},
		deployErr: domain.DeploymentFailure("deploy", "orders on agent", "", errors.New("500")),
	}
	runner, history, _ := newTestRunner(t, target)

	res := runner.Run(context.Background(), testConfig())
	assert.ErrorIs(t, res.Err, domain.ErrDeployment)
	assert.False(t, res.Verified)
	assert.False(t, target.has("observe"))
	assert.Equal(t, domain.OutcomeDeployFailed, lastRecord(t, history).Outcome)
}

func TestRun_VerificationFailure(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}, statuses: []string{"DEPLOYING", "FAILED"}}
	runner, _, _ := newTestRunner(t, target)

	res := runner.Run(context.Background(), testConfig())
	assert.ErrorIs(t, res.Err, domain.ErrDeployment)
	assert.Contains(t, res.Err.Error(), verification.MessageFailed)
	assert.Equal(t, verification.PhaseFailed, res.Verification.Phase)
	assert.False(t, target.has("remediate"))
}

func TestRun_VerificationTimeout(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}, statuses: []string{"DEPLOYING"}}
	runner, history, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Timeout = 40 * time.Millisecond

	res := runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, res.Err, domain.ErrVerificationTimeout)
	assert.True(t, target.has("remediate"))
	assert.Equal(t, domain.OutcomeTimedOut, lastRecord(t, history).Outcome)
}

func TestRun_SkipVerification(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}, statuses: []string{"FAILED"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.SkipVerification = true

	res := runner.Run(context.Background(), cfg)
	require.NoError(t, res.Err)
	assert.False(t, res.Verified)
	assert.False(t, target.has("observe"))
}

func TestRun_DomainArtifact(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Artifact.Kind = domain.ArtifactDomain

	res := runner.Run(context.Background(), cfg)
	require.NoError(t, res.Err)
	assert.True(t, target.has("deploy-domain"))
	assert.False(t, target.has("deploy-application"))
}

func TestRun_WithoutHistory(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.6.0"}}
	factory := func(domain.DeploymentConfiguration) (targets.Target, error) { return target, nil }
	runner := NewRunner(factory, nil, Config{}, nil)

	res := runner.Run(context.Background(), testConfig())
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.RunID)
}

// =============================================================================
// Single Step Tests
// =============================================================================

func TestValidate_DoesNotRequireArtifact(t *testing.T) {
	target := &fakeTarget{versions: []string{"4.4.0", "4.6.0"}}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Artifact.Path = ""

	sv, err := runner.Validate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"4.4.0", "4.6.0"}, sv.List())
	assert.Equal(t, []string{"resolve"}, target.calls)
}

func TestDeploy_Only(t *testing.T) {
	target := &fakeTarget{versions: []string{"1.0.0"}}
	runner, _, _ := newTestRunner(t, target)

	require.NoError(t, runner.Deploy(context.Background(), testConfig()))
	assert.Equal(t, []string{"deploy-application"}, target.calls)
}

func TestVerify_Only(t *testing.T) {
	target := &fakeTarget{statuses: []string{"STARTED"}}
	runner, _, _ := newTestRunner(t, target)

	res, err := runner.Verify(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, verification.PhaseConfirmed, res.Phase)
}

func TestUndeploy_RecordsRun(t *testing.T) {
	target := &fakeTarget{}
	runner, history, _ := newTestRunner(t, target)

	require.NoError(t, runner.Undeploy(context.Background(), testConfig()))
	assert.Equal(t, []string{"undeploy-application"}, target.calls)

	rec := lastRecord(t, history)
	assert.Equal(t, domain.OperationUndeploy, rec.Operation)
	assert.Equal(t, domain.OutcomeSucceeded, rec.Outcome)
}

func TestUndeploy_Domain(t *testing.T) {
	target := &fakeTarget{}
	runner, _, _ := newTestRunner(t, target)

	cfg := testConfig()
	cfg.Artifact.Kind = domain.ArtifactDomain
	require.NoError(t, runner.Undeploy(context.Background(), cfg))
	assert.Equal(t, []string{"undeploy-domain"}, target.calls)
}

func TestRunner_FactoryError(t *testing.T) {
	factory := func(domain.DeploymentConfiguration) (targets.Target, error) {
		return nil, targets.ErrControllerRequired
	}
	runner := NewRunner(factory, nil, DefaultConfig(), nil)

	_, err := runner.Validate(context.Background(), testConfig())
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, targets.ErrControllerRequired)
}

// =============================================================================
// DeployAll Tests
// =============================================================================

func TestDeployAll_BoundedConcurrency(t *testing.T) {
	var active, maxActive int32
	fakes := map[string]*fakeTarget{}
	var mu sync.Mutex

	factory := func(cfg domain.DeploymentConfiguration) (targets.Target, error) {
		mu.Lock()
		defer mu.Unlock()
		f := &fakeTarget{
			versions:    []string{"4.6.0"},
			deployDelay: 20 * time.Millisecond,
			active:      &active,
			maxActive:   &maxActive,
		}
		fakes[cfg.ApplicationName] = f
		return f, nil
	}
	runner := NewRunner(factory, nil, Config{MaxConcurrent: 2}, nil)

	var cfgs []domain.DeploymentConfiguration
	for i := 0; i < 6; i++ {
		cfg := testConfig()
		cfg.ApplicationName = fmt.Sprintf("app-%d", i)
		cfg.SkipVerification = true
		cfgs = append(cfgs, cfg)
	}

	results := runner.DeployAll(context.Background(), cfgs)
	require.Len(t, results, 6)
	for i, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, fmt.Sprintf("app-%d on agent", i), res.Subject, "results keep input order")
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
	assert.Len(t, fakes, 6)
}

func TestDeployAll_IndependentFailures(t *testing.T) {
	factory := func(cfg domain.DeploymentConfiguration) (targets.Target, error) {
		if cfg.ApplicationName == "bad" {
			return &fakeTarget{versions: []string{"3.0.0"}}, nil
		}
		return &fakeTarget{versions: []string{"4.6.0"}}, nil
	}
	runner := NewRunner(factory, nil, DefaultConfig(), nil)

	good, bad := testConfig(), testConfig()
	bad.ApplicationName = "bad"

	results := runner.DeployAll(context.Background(), []domain.DeploymentConfiguration{good, bad})
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrValidation)
}
