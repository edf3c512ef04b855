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

// Fabric deploys to the container fabric. The fabric pulls the artifact from
// the repository by coordinate, so only a deployment descriptor is sent.
type Fabric struct {
	cfg    domain.DeploymentConfiguration
	client *remote.Client
	logger *slog.Logger

	deploymentID string
}

// NewFabric creates a fabric target.
func NewFabric(cfg domain.DeploymentConfiguration, client *remote.Client, logger *slog.Logger) *Fabric {
	return &Fabric{cfg: cfg, client: client, logger: logger}
}

type fabricTarget struct {
	Provider string `json:"provider,omitempty"`
	TargetID string `json:"targetId"`
	Replicas int    `json:"replicas"`
}

type fabricApplication struct {
	Ref           domain.ArtifactCoordinate `json:"ref"`
	DesiredState  string                    `json:"desiredState"`
	Configuration map[string]string         `json:"configuration,omitempty"`
}

type fabricDeploymentRequest struct {
	Name           string            `json:"name"`
	RuntimeVersion string            `json:"runtimeVersion,omitempty"`
	Target         fabricTarget      `json:"target"`
	Application    fabricApplication `json:"application"`
}

type fabricDeployment struct {
	ID     resourceID `json:"id"`
	Name   string     `json:"name"`
	Status string     `json:"status"`
	Target struct {
		TargetID string `json:"targetId"`
	} `json:"target"`
	Message string `json:"message,omitempty"`
}

type fabricDeployments struct {
	Items []fabricDeployment `json:"items"`
}

// Type returns domain.TargetFabric.
func (f *Fabric) Type() domain.TargetType { return domain.TargetFabric }

// =============================================================================
// Deployer
// =============================================================================

// DeployApplication creates the deployment, or patches it when one with the
// same name already exists on the configured fabric target.
func (f *Fabric) DeployApplication(ctx context.Context, artifact domain.Artifact) error {
	existing, err := f.findDeployment(ctx)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}

	req := fabricDeploymentRequest{
		Name:           f.cfg.ApplicationName,
		RuntimeVersion: f.cfg.RequiredRuntimeVersion(),
		Target: fabricTarget{
			Provider: f.cfg.Fabric.Provider,
			TargetID: f.cfg.Fabric.TargetID,
			Replicas: f.cfg.Fabric.Replicas,
		},
		Application: fabricApplication{
			Ref:           artifact.Coordinate,
			DesiredState:  "STARTED",
			Configuration: f.cfg.Fabric.Properties,
		},
	}

	if existing != nil {
		path := f.deploymentPath(string(existing.ID))
		resp, err := f.client.PatchJSON(ctx, path, req)
		if _, err := send(resp, err, http.MethodPatch, path); err != nil {
			return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
		}
		f.deploymentID = string(existing.ID)
		f.logger.Info("updated fabric deployment", "deployment_id", f.deploymentID)
		return nil
	}

	path := f.basePath() + "/deployments"
	resp, err := f.client.PostJSON(ctx, path, req)
	if _, err := send(resp, err, http.MethodPost, path); err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}

	var created fabricDeployment
	if err := resp.Decode(&created); err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}
	if created.ID == "" {
		return domain.DeploymentFailure("deploy", f.cfg.Subject(), "", ErrDeploymentIDMissing)
	}
	f.deploymentID = string(created.ID)
	f.logger.Info("created fabric deployment", "deployment_id", f.deploymentID)
	return nil
}

// UndeployApplication deletes the deployment. A missing deployment is not an error.
func (f *Fabric) UndeployApplication(ctx context.Context) error {
	existing, err := f.findDeployment(ctx)
	if err != nil {
		return fail(domain.ErrDeployment, "undeploy", f.cfg.Subject(), err)
	}
	if existing == nil {
		f.logger.Info("nothing to undeploy")
		return nil
	}

	path := f.deploymentPath(string(existing.ID))
	resp, err := f.client.Delete(ctx, path)
	if _, err := send(resp, err, http.MethodDelete, path); err != nil && !remote.IsNotFound(err) {
		return fail(domain.ErrDeployment, "undeploy", f.cfg.Subject(), err)
	}
	f.deploymentID = ""
	return nil
}

// DeployDomain is not supported on the fabric.
func (f *Fabric) DeployDomain(ctx context.Context, artifact domain.Artifact) error {
	return domain.ValidationFailure("deploy", f.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// UndeployDomain is not supported on the fabric.
func (f *Fabric) UndeployDomain(ctx context.Context) error {
	return domain.ValidationFailure("undeploy", f.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// findDeployment matches by name and fabric target.
func (f *Fabric) findDeployment(ctx context.Context) (*fabricDeployment, error) {
	path := f.basePath() + "/deployments"
	resp, err := f.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return nil, err
	}

	var list fabricDeployments
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	for i := range list.Items {
		d := &list.Items[i]
		if d.Name == f.cfg.ApplicationName && d.Target.TargetID == f.cfg.Fabric.TargetID {
			return d, nil
		}
	}
	return nil, nil
}

// =============================================================================
// Validator
// =============================================================================

// ResolveSupportedVersions trusts the declared version; the fabric provisions
// whichever runtime the deployment asks for.
func (f *Fabric) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	return echoVersions(f.cfg)
}

// =============================================================================
// Verification
// =============================================================================

// Observe reads the deployment status.
func (f *Fabric) Observe(ctx context.Context) (verification.Observation, error) {
	if f.deploymentID == "" {
		existing, err := f.findDeployment(ctx)
		if err != nil {
			return verification.Observation{}, err
		}
		if existing == nil {
			return verification.Observation{}, nil
		}
		f.deploymentID = string(existing.ID)
	}

	path := f.deploymentPath(f.deploymentID)
	resp, err := f.client.Get(ctx, path, nil)
	_, err = send(resp, err, http.MethodGet, path)
	if remote.IsNotFound(err) {
		return verification.Observation{}, nil
	}
	if err != nil {
		return verification.Observation{}, err
	}

	var d fabricDeployment
	if err := resp.Decode(&d); err != nil {
		return verification.Observation{}, err
	}
	return verification.Observation{Present: true, Status: d.Status, Detail: d.Message}, nil
}

// Predicates: APPLIED is running, FAILED is terminal.
func (f *Fabric) Predicates() verification.Predicates {
	return verification.StatusPredicates([]string{"APPLIED"}, []string{"FAILED"})
}

// Remediate records the final deployment status.
func (f *Fabric) Remediate(ctx context.Context) error {
	obs, err := f.Observe(ctx)
	if err != nil {
		return err
	}
	f.logger.Warn("fabric deployment was not applied in time",
		"deployment_id", f.deploymentID,
		"last_status", obs.Status,
		"detail", obs.Detail,
	)
	return nil
}

func (f *Fabric) basePath() string {
	return "/fabric/api/v2/organizations/" + url.PathEscape(f.cfg.Fabric.OrganizationID) +
		"/environments/" + url.PathEscape(f.cfg.Fabric.EnvironmentID)
}

func (f *Fabric) deploymentPath(id string) string {
	return f.basePath() + "/deployments/" + url.PathEscape(id)
}
