package targets

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
	"github.com/artpar/deployer/internal/shell/remote"
)

// Agent deploys through the management agent embedded in a single runtime.
//
// Routes:
//
//	PUT    /agent/applications/{name}   deploy (binary body)
//	DELETE /agent/applications/{name}   undeploy
//	GET    /agent/applications/{name}   {"state": "..."}
//	PUT    /agent/domains/{name}        deploy domain
//	DELETE /agent/domains/{name}        undeploy domain
//	GET    /agent/info                  {"runtimeVersion": "..."}
type Agent struct {
	cfg    domain.DeploymentConfiguration
	client *remote.Client
	logger *slog.Logger
}

// NewAgent creates an agent target.
func NewAgent(cfg domain.DeploymentConfiguration, client *remote.Client, logger *slog.Logger) *Agent {
	return &Agent{cfg: cfg, client: client, logger: logger}
}

type agentInfo struct {
	RuntimeVersion string `json:"runtimeVersion"`
}

type agentApplication struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Type returns domain.TargetAgent.
func (a *Agent) Type() domain.TargetType { return domain.TargetAgent }

// =============================================================================
// Deployer
// =============================================================================

// DeployApplication uploads the artifact. The agent answers 202 Accepted
// and starts it asynchronously.
func (a *Agent) DeployApplication(ctx context.Context, artifact domain.Artifact) error {
	return a.put(ctx, a.applicationPath(), artifact)
}

// UndeployApplication removes the application. A missing application is not an error.
func (a *Agent) UndeployApplication(ctx context.Context) error {
	return a.delete(ctx, a.applicationPath())
}

// DeployDomain uploads a domain artifact.
func (a *Agent) DeployDomain(ctx context.Context, artifact domain.Artifact) error {
	return a.put(ctx, a.domainPath(), artifact)
}

// UndeployDomain removes the domain.
func (a *Agent) UndeployDomain(ctx context.Context) error {
	return a.delete(ctx, a.domainPath())
}

func (a *Agent) put(ctx context.Context, path string, artifact domain.Artifact) error {
	body, err := readArtifact(artifact)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", a.cfg.Subject(), err)
	}
	resp, err := a.client.Upload(ctx, http.MethodPut, path, body)
	if _, err := send(resp, err, http.MethodPut, path); err != nil {
		return fail(domain.ErrDeployment, "deploy", a.cfg.Subject(), err)
	}
	a.logger.Info("artifact accepted by agent", "path", path, "status", resp.StatusCode)
	return nil
}

func (a *Agent) delete(ctx context.Context, path string) error {
	resp, err := a.client.Delete(ctx, path)
	_, err = send(resp, err, http.MethodDelete, path)
	if remote.IsNotFound(err) {
		a.logger.Info("nothing to undeploy", "path", path)
		return nil
	}
	return fail(domain.ErrDeployment, "undeploy", a.cfg.Subject(), err)
}

// =============================================================================
// Validator
// =============================================================================

// ResolveSupportedVersions returns the single version the agent's runtime runs.
func (a *Agent) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	const path = "/agent/info"
	resp, err := a.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", a.cfg.Subject(), err)
	}

	var info agentInfo
	if err := resp.Decode(&info); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", a.cfg.Subject(), err)
	}
	sv, err := domain.NewSupportedVersions(info.RuntimeVersion)
	if err != nil {
		return sv, domain.ValidationFailure("resolve-versions", a.cfg.Subject(), "", ErrNoRuntimeVersion)
	}
	return sv, nil
}

// =============================================================================
// Verification
// =============================================================================

// Observe reads the application (or domain) state from the agent.
func (a *Agent) Observe(ctx context.Context) (verification.Observation, error) {
	path := a.applicationPath()
	if a.cfg.Artifact.Kind == domain.ArtifactDomain {
		path = a.domainPath()
	}

	resp, err := a.client.Get(ctx, path, nil)
	_, err = send(resp, err, http.MethodGet, path)
	if remote.IsNotFound(err) {
		return verification.Observation{}, nil
	}
	if err != nil {
		return verification.Observation{}, err
	}

	var app agentApplication
	if err := resp.Decode(&app); err != nil {
		return verification.Observation{}, err
	}
	return verification.Observation{Present: true, Status: app.State, Detail: app.Error}, nil
}

// Predicates: STARTED is running, DEPLOYMENT_FAILED and FAILED are terminal.
func (a *Agent) Predicates() verification.Predicates {
	return verification.StatusPredicates(
		[]string{"STARTED"},
		[]string{"DEPLOYMENT_FAILED", "FAILED"},
	)
}

// Remediate undeploys the artifact so a half-started application does not
// linger on the runtime.
func (a *Agent) Remediate(ctx context.Context) error {
	if a.cfg.Artifact.Kind == domain.ArtifactDomain {
		return a.UndeployDomain(ctx)
	}
	return a.UndeployApplication(ctx)
}

func (a *Agent) applicationPath() string {
	return "/agent/applications/" + url.PathEscape(a.cfg.ApplicationName)
}

func (a *Agent) domainPath() string {
	return "/agent/domains/" + url.PathEscape(a.cfg.ApplicationName)
}
