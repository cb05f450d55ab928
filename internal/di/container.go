package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flightline-academy/api/internal/platform/config"
	"github.com/flightline-academy/api/internal/repositories"
	"github.com/flightline-academy/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Org      services.OrgService
	Matrix   services.MatrixService
	Evidence services.EvidenceService
	System   services.SystemService
	Audit    services.AuditLogService
}

// ContainerDeps carries the infrastructure adapters the container cannot
// build itself: the evidence URL signer and the transition notifier.
type ContainerDeps struct {
	EvidenceSigner services.EvidenceURLSigner
	Notifier       services.TransitionNotifier
	Logger         func(ctx context.Context, event string, fields map[string]any)
	Build          services.BuildInfo
	Clock          func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Rules:     reg.Rules(),
		Documents: reg.Documents(),
		Matrices:  reg.Matrices(),
		Audit:     svc.Audit,
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	orgSvc, err := services.NewOrgService(services.OrgServiceDeps{
		Departments: reg.Departments(),
		Positions:   reg.Positions(),
		Matrices:    reg.Matrices(),
		Audit:       svc.Audit,
		Clock:       clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build org service: %w", err)
	}
	svc.Org = orgSvc

	matrixSvc, err := services.NewMatrixService(services.MatrixServiceDeps{
		Matrices:        reg.Matrices(),
		Positions:       reg.Positions(),
		Documents:       reg.Documents(),
		Departments:     reg.Departments(),
		Audit:           svc.Audit,
		Notifier:        deps.Notifier,
		Clock:           clock,
		OpTimeout:       cfg.Matrix.OperationTimeout,
		TimeoutAttempts: cfg.Matrix.TimeoutRetries,
		Logger:          deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build matrix service: %w", err)
	}
	svc.Matrix = matrixSvc

	if deps.EvidenceSigner != nil && cfg.Storage.EvidenceBucket != "" {
		evidenceSvc, err := services.NewEvidenceService(services.EvidenceServiceDeps{
			Signer:   deps.EvidenceSigner,
			Matrices: reg.Matrices(),
			Bucket:   cfg.Storage.EvidenceBucket,
			Clock:    clock,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build evidence service: %w", err)
		}
		svc.Evidence = evidenceSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
			Audit:            svc.Audit,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
