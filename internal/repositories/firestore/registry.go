package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/flightline-academy/api/internal/platform/firestore"
	"github.com/flightline-academy/api/internal/repositories"
)

// Registry wires every Firestore-backed repository onto a shared provider.
type Registry struct {
	provider *pfirestore.Provider

	rules       *RuleRepository
	documents   *DocumentRepository
	departments *DepartmentRepository
	positions   *PositionRepository
	matrices    *MatrixRepository
	auditLogs   *AuditLogRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	extraChecks []repositories.DependencyCheck
}

// WithHealthChecks appends dependency probes beyond the built-in Firestore check.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// NewRegistry constructs the full repository set backed by the provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}

	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rules, err := NewRuleRepository(provider)
	if err != nil {
		return nil, err
	}
	documents, err := NewDocumentRepository(provider)
	if err != nil {
		return nil, err
	}
	departments, err := NewDepartmentRepository(provider)
	if err != nil {
		return nil, err
	}
	positions, err := NewPositionRepository(provider)
	if err != nil {
		return nil, err
	}
	matrices, err := NewMatrixRepository(provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{firestoreCheck(provider)}, cfg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		rules:       rules,
		documents:   documents,
		departments: departments,
		positions:   positions,
		matrices:    matrices,
		auditLogs:   auditLogs,
		health:      health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Rules returns the rule catalog repository.
func (r *Registry) Rules() repositories.RuleRepository { return r.rules }

// Documents returns the document-type catalog repository.
func (r *Registry) Documents() repositories.DocumentRepository { return r.documents }

// Departments returns the department repository.
func (r *Registry) Departments() repositories.DepartmentRepository { return r.departments }

// Positions returns the position repository.
func (r *Registry) Positions() repositories.PositionRepository { return r.positions }

// Matrices returns the compliance matrix repository.
func (r *Registry) Matrices() repositories.MatrixRepository { return r.matrices }

// AuditLogs returns the audit log repository.
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

func firestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		},
	}
}
