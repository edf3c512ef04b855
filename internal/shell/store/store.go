package store

import (
	"context"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store records finished deployment runs. It is an audit log only: nothing
// reads it back to schedule or resume work.
type Store interface {
	RecordDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error)
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
// Records are returned newest first.
type ListOptions struct {
	Limit  int
	Offset int

	ApplicationName string            // Optional filter
	Target          domain.TargetType // Optional filter
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
