package targets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
	"github.com/artpar/deployer/internal/shell/remote"
)

const fleetBase = "/fleet/api/v1"

// Fleet deploys through the fleet-management control plane, which pushes
// artifacts to registered servers, server groups and clusters.
type Fleet struct {
	cfg    domain.DeploymentConfiguration
	client *remote.Client
	logger *slog.Logger

	// appID is remembered after deploy so verification polls one resource.
	appID string
}

// NewFleet creates a fleet-management target.
func NewFleet(cfg domain.DeploymentConfiguration, client *remote.Client, logger *slog.Logger) *Fleet {
	return &Fleet{cfg: cfg, client: client, logger: logger}
}

type fleetRef struct {
	ID   resourceID `json:"id"`
	Name string     `json:"name"`
}

type fleetList struct {
	Data []fleetRef `json:"data"`
}

type fleetServer struct {
	Data struct {
		ID             resourceID `json:"id"`
		RuntimeVersion string     `json:"runtimeVersion"`
	} `json:"data"`
}

type fleetApplication struct {
	ID                 resourceID `json:"id"`
	Name               string     `json:"name"`
	LastReportedStatus string     `json:"lastReportedStatus"`
	Error              string     `json:"error,omitempty"`
}

type fleetApplications struct {
	Data []fleetApplication `json:"data"`
}

type fleetApplicationEnvelope struct {
	Data fleetApplication `json:"data"`
}

// Type returns domain.TargetFleetManagement.
func (f *Fleet) Type() domain.TargetType { return domain.TargetFleetManagement }

// =============================================================================
// Deployer
// =============================================================================

// DeployApplication creates the application on the resolved target, or
// replaces its artifact when an application of that name already exists.
func (f *Fleet) DeployApplication(ctx context.Context, artifact domain.Artifact) error {
	target, err := f.resolveTarget(ctx)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}

	existing, err := f.findApplication(ctx, target.ID)
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}

	if existing != nil {
		path := fleetBase + "/applications/" + url.PathEscape(string(existing.ID))
		if _, err := f.upload(ctx, http.MethodPatch, path, artifact, nil); err != nil {
			return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
		}
		f.appID = string(existing.ID)
		f.logger.Info("updated fleet application", "app_id", f.appID, "target_id", target.ID)
		return nil
	}

	path := fleetBase + "/applications"
	resp, err := f.upload(ctx, http.MethodPost, path, artifact, map[string]string{
		"artifactName": f.cfg.ApplicationName,
		"targetId":     target.ID,
	})
	if err != nil {
		return fail(domain.ErrDeployment, "deploy", f.cfg.Subject(), err)
	}

	var created fleetApplicationEnvelope
	if err := resp.Decode(&created); err == nil {
		f.appID = string(created.Data.ID)
	}
	f.logger.Info("created fleet application", "app_id", f.appID, "target_id", target.ID)
	return nil
}

// UndeployApplication deletes the application. A missing application is not an error.
func (f *Fleet) UndeployApplication(ctx context.Context) error {
	target, err := f.resolveTarget(ctx)
	if err != nil {
		return fail(domain.ErrDeployment, "undeploy", f.cfg.Subject(), err)
	}
	existing, err := f.findApplication(ctx, target.ID)
	if err != nil {
		return fail(domain.ErrDeployment, "undeploy", f.cfg.Subject(), err)
	}
	if existing == nil {
		f.logger.Info("nothing to undeploy", "target_id", target.ID)
		return nil
	}

	path := fleetBase + "/applications/" + url.PathEscape(string(existing.ID))
	resp, err := f.client.Delete(ctx, path)
	if _, err := send(resp, err, http.MethodDelete, path); err != nil && !remote.IsNotFound(err) {
		return fail(domain.ErrDeployment, "undeploy", f.cfg.Subject(), err)
	}
	f.appID = ""
	return nil
}

// DeployDomain is not supported on the fleet-management plane.
func (f *Fleet) DeployDomain(ctx context.Context, artifact domain.Artifact) error {
	return domain.ValidationFailure("deploy", f.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// UndeployDomain is not supported on the fleet-management plane.
func (f *Fleet) UndeployDomain(ctx context.Context) error {
	return domain.ValidationFailure("undeploy", f.cfg.Subject(), "", domain.ErrDomainNotSupported)
}

// upload sends the artifact as multipart/form-data with extra form fields.
func (f *Fleet) upload(ctx context.Context, method, path string, artifact domain.Artifact, fields map[string]string) (*remote.Response, error) {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(artifact.Path))
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	resp, err := f.client.Do(ctx, remote.Request{
		Method:      method,
		Path:        path,
		Body:        &buf,
		ContentType: w.FormDataContentType(),
	})
	return send(resp, err, method, path)
}

// =============================================================================
// Target Lookup
// =============================================================================

// resolveTarget finds the configured server, server group or cluster by name.
func (f *Fleet) resolveTarget(ctx context.Context) (domain.TargetDescriptor, error) {
	kind := f.cfg.Fleet.TargetKind
	var collection string
	switch kind {
	case domain.DescriptorServer:
		collection = "/servers"
	case domain.DescriptorServerGroup:
		collection = "/serverGroups"
	case domain.DescriptorCluster:
		collection = "/clusters"
	default:
		return domain.TargetDescriptor{}, domain.ErrFleetTargetKindInvalid
	}

	path := fleetBase + collection
	resp, err := f.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return domain.TargetDescriptor{}, err
	}

	var list fleetList
	if err := resp.Decode(&list); err != nil {
		return domain.TargetDescriptor{}, err
	}
	for _, ref := range list.Data {
		if ref.Name == f.cfg.Fleet.TargetName {
			return domain.TargetDescriptor{Kind: kind, ID: string(ref.ID), Name: ref.Name}, nil
		}
	}
	return domain.TargetDescriptor{}, domain.ValidationFailure("resolve-target", f.cfg.Subject(),
		fmt.Sprintf("%s %q", kind, f.cfg.Fleet.TargetName), ErrTargetNotFound)
}

// findApplication returns the application of the configured name on the
// target, or nil when there is none.
func (f *Fleet) findApplication(ctx context.Context, targetID string) (*fleetApplication, error) {
	path := fleetBase + "/applications"
	resp, err := f.client.Get(ctx, path, url.Values{"targetId": {targetID}})
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return nil, err
	}

	var apps fleetApplications
	if err := resp.Decode(&apps); err != nil {
		return nil, err
	}
	for i := range apps.Data {
		if apps.Data[i].Name == f.cfg.ApplicationName {
			return &apps.Data[i], nil
		}
	}
	return nil, nil
}

// =============================================================================
// Validator
// =============================================================================

// ResolveSupportedVersions reads the runtime version of a single server.
// Server groups and clusters do not expose one, so the declared version is
// trusted for them.
func (f *Fleet) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	if f.cfg.Fleet.TargetKind != domain.DescriptorServer {
		return echoVersions(f.cfg)
	}

	target, err := f.resolveTarget(ctx)
	if err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", f.cfg.Subject(), err)
	}

	path := fleetBase + "/servers/" + url.PathEscape(target.ID)
	resp, err := f.client.Get(ctx, path, nil)
	if _, err := send(resp, err, http.MethodGet, path); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", f.cfg.Subject(), err)
	}

	var server fleetServer
	if err := resp.Decode(&server); err != nil {
		return domain.SupportedVersions{}, fail(domain.ErrValidation, "resolve-versions", f.cfg.Subject(), err)
	}
	sv, err := domain.NewSupportedVersions(server.Data.RuntimeVersion)
	if err != nil {
		return sv, domain.ValidationFailure("resolve-versions", f.cfg.Subject(), "server "+target.Name, ErrNoRuntimeVersion)
	}
	return sv, nil
}

// =============================================================================
// Verification
// =============================================================================

// Observe reads the last status the fleet plane received for the application.
func (f *Fleet) Observe(ctx context.Context) (verification.Observation, error) {
	if f.appID == "" {
		target, err := f.resolveTarget(ctx)
		if err != nil {
			return verification.Observation{}, err
		}
		existing, err := f.findApplication(ctx, target.ID)
		if err != nil {
			return verification.Observation{}, err
		}
		if existing == nil {
			return verification.Observation{}, nil
		}
		f.appID = string(existing.ID)
	}

	path := fleetBase + "/applications/" + url.PathEscape(f.appID)
	resp, err := f.client.Get(ctx, path, nil)
	_, err = send(resp, err, http.MethodGet, path)
	if remote.IsNotFound(err) {
		return verification.Observation{}, nil
	}
	if err != nil {
		return verification.Observation{}, err
	}

	var env fleetApplicationEnvelope
	if err := resp.Decode(&env); err != nil {
		return verification.Observation{}, err
	}
	return verification.Observation{
		Present: true,
		Status:  env.Data.LastReportedStatus,
		Detail:  env.Data.Error,
	}, nil
}

// Predicates: STARTED is running, DEPLOYMENT_FAILED is terminal.
func (f *Fleet) Predicates() verification.Predicates {
	return verification.StatusPredicates([]string{"STARTED"}, []string{"DEPLOYMENT_FAILED"})
}

// Remediate records the final reported status. The fleet plane keeps
// retrying on its own, so the application is left in place.
func (f *Fleet) Remediate(ctx context.Context) error {
	obs, err := f.Observe(ctx)
	if err != nil {
		return err
	}
	f.logger.Warn("fleet application did not start in time",
		"app_id", f.appID,
		"last_status", obs.Status,
		"detail", obs.Detail,
	)
	return nil
}
