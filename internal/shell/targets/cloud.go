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

const cloudBase = "/cloud/api"

// Cloud deploys to the managed cloud platform. Applications are addressed by
// their domain, which is the configured application name.
type Cloud struct {
	cfg    domain.DeploymentConfiguration
	client *remote.Client
	logger *slog.Logger
}

// NewCloud creates a managed-cloud target.
func NewCloud(cfg domain.DeploymentConfiguration, client *remote.Client, logger *slog.Logger) *Cloud {
	return &Cloud{cfg: cfg, client: client, logger: logger}
}

type cloudRuntimeVersions struct {
	Data []struct {
		Version string `json:"version"`
	} `json:"data"`
}

type cloudDomainAvailability struct {
	Available bool `json:"available"`
}

type cloudWorkers struct {
	Amount int    `json:"amount"`
	Type   string `json:"type,omitempty"`
}

type cloudApplicationRequest struct {
	Domain         string            `json:"domain"`
	RuntimeVersion string            `json:"runtimeVersion,omitempty"`
	Region         string            `json:"region,omitempty"`
	Workers        cloudWorkers      `json:"workers"`
	Properties     map[string]string `json:"properties,omitempty"`
}

type cloudApplication struct {
	Domain                 string `json:"domain"`
	Status                 string `json:"status"`
	DeploymentUpdateStatus string `json:"deploymentUpdateStatus,omitempty"`
	LastError              string `json:"lastError,omitempty"`
}

// Type returns domain.TargetManagedCloud.
func (c *Cloud) Type() domain.TargetType { return domain.TargetManagedCloud }

// =============================================================================
// Deployer
// =============================================================================

// DeployApplication creates or updates the application, then uploads the
// artifact. A new domain must be available before it can be claimed.
func (c *Cloud) DeployApplication(ctx context.Context, artifact domain.Artifact) error {
	existing, err := c.getApplication(ctx)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
	}

	req := cloudApplicationRequest{
		Domain:         c.cfg.ApplicationName,
		RuntimeVersion: c.cfg.RequiredRuntimeVersion(),
		Region:         c.cfg.Cloud.Region,
		Workers:        cloudWorkers{Amount: c.cfg.Cloud.Workers, Type: c.cfg.Cloud.WorkerType},
		Properties:     c.cfg.Cloud.Properties,
	}

	if existing == nil {
		if err := c.checkDomainAvailable(ctx); err != nil {
			return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
		}
		path := cloudBase + "/applications"
		resp, err := c.client.PostJSON(ctx, path, req)
		if _, err := send(resp, err, http.MethodPost, path); err != nil {
			return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
		}
		c.logger.Info("created cloud application", "domain", c.cfg.ApplicationName)
	} else {
		path := c.applicationPath()
		resp, err := c.client.PutJSON(ctx, path, req)
		if _, err := send(resp, err, http.MethodPut, path); err != nil {
			return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
		}
		c.logger.Info("updated cloud application", "domain", c.cfg.ApplicationName, "previous_status", existing.Status)
	}

	body, err := readArtifact(artifact)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
	}
	path := c.applicationPath() + "/files"
	resp, err := c.client.Upload(ctx, http.MethodPost, path, body)
	if _, err := send(resp, err, http.MethodPost, path); err != nil {
		return fail(domain.ErrDeployment, "deploy", c.cfg.Subject(), err)
	}
	return nil
}

// UndeployApplication deletes the application. A missing application is not an error.
func (c *Cloud) UndeployApplication(ctx context.Context) error {
	path := c.applicationPath()
	resp, err := c.client.Delete(ctx, path)
	_, err = send(resp, err, http.MethodDelete, path)
	if remote.IsNotFound(err) {
		c.logger.Info("nothing to undeploy", "domain", c.cfg.ApplicationName)
		return nil
	}
	return fail(domain.ErrDeployment, "undeploy", c.cfg.Subject(), err)
}

// DeployDomain is not supported on the managed cloud platform.
func (c *Cloud) DeployDomain(ctx context.Context, artifact domain.Artifact) error {
	return domain.ValidationFailure("deploy", c.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// UndeployDomain is not supported on the managed cloud platform.
func (c *Cloud) UndeployDomain(ctx context.Context) error {
	return domain.ValidationFailure("undeploy", c.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// getApplication returns nil when the domain has no application.
func (c *Cloud) getApplication(ctx context.Context) (*cloudApplication, error) {
	path := c.applicationPath()
	resp, err := c.client.Get(ctx, path, nil)
	_, err = send(resp, err, http.MethodGet, path)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var app cloudApplication
	if err := resp.Decode(&app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (c *Cloud) checkDomainAvailable(ctx context.Context) error {
	path := cloudBase + "/applications/domains/" + url.PathEscape(c.cfg.ApplicationName)
	resp, err := c.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return err
	}

	var av cloudDomainAvailability
	if err := resp.Decode(&av); err != nil {
		return err
	}
	if !av.Available {
		return domain.ValidationFailure("deploy", c.cfg.Subject(), c.cfg.ApplicationName, ErrDomainUnavailable)
	}
	return nil
}

// =============================================================================
// Validator
// =============================================================================

// ResolveSupportedVersions lists every runtime version the platform offers.
func (c *Cloud) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	path := cloudBase + "/runtime-versions"
	resp, err := c.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", c.cfg.Subject(), err)
	}

	var list cloudRuntimeVersions
	if err := resp.Decode(&list); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", c.cfg.Subject(), err)
	}
	versions := make([]string, 0, len(list.Data))
	for _, v := range list.Data {
		versions = append(versions, v.Version)
	}
	sv, err := domain.NewSupportedVersions(versions...)
	if err != nil {
		return sv, domain.ValidationFailure("resolve-versions", c.cfg.Subject(), "", err)
	}
	return sv, nil
}

// =============================================================================
// Verification
// =============================================================================

// Observe reports the pending update status when an update is in flight,
// and the application status otherwise.
func (c *Cloud) Observe(ctx context.Context) (verification.Observation, error) {
	app, err := c.getApplication(ctx)
	if err != nil {
		return verification.Observation{}, err
	}
	if app == nil {
		return verification.Observation{}, nil
	}

	status := app.Status
	if app.DeploymentUpdateStatus != "" {
		status = app.DeploymentUpdateStatus
	}
	return verification.Observation{Present: true, Status: status, Detail: app.LastError}, nil
}

// Predicates: STARTED with no update in flight is running. DEPLOY_FAILED,
// or a DEPLOYMENT_FAILED update, is terminal.
func (c *Cloud) Predicates() verification.Predicates {
	return verification.StatusPredicates(
		[]string{"STARTED"},
		[]string{"DEPLOY_FAILED", "DEPLOYMENT_FAILED"},
	)
}

// Remediate records the final application status.
func (c *Cloud) Remediate(ctx context.Context) error {
	obs, err := c.Observe(ctx)
	if err != nil {
		return err
	}
	c.logger.Warn("cloud application did not start in time",
		"domain", c.cfg.ApplicationName,
		"last_status", obs.Status,
		"detail", obs.Detail,
	)
	return nil
}

func (c *Cloud) applicationPath() string {
	return cloudBase + "/applications/" + url.PathEscape(c.cfg.ApplicationName)
}
