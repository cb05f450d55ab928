package repositories

import (
	"context"
	"time"

	domain "github.com/flightline-academy/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Rules() RuleRepository
	Documents() DocumentRepository
	Departments() DepartmentRepository
	Positions() PositionRepository
	Matrices() MatrixRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// RuleRepository persists validation rule catalog entries.
type RuleRepository interface {
	Insert(ctx context.Context, rule domain.Rule) error
	Update(ctx context.Context, rule domain.Rule) error
	Delete(ctx context.Context, ruleID string) error
	FindByID(ctx context.Context, ruleID string) (domain.Rule, error)
	// FindByNameKey looks a rule up by its normalised name used for duplicate detection.
	FindByNameKey(ctx context.Context, nameKey string) (domain.Rule, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Rule], error)
}

// DocumentRepository persists document-type catalog entries.
type DocumentRepository interface {
	Insert(ctx context.Context, doc domain.Document) error
	Update(ctx context.Context, doc domain.Document) error
	Delete(ctx context.Context, documentID string) error
	FindByID(ctx context.Context, documentID string) (domain.Document, error)
	FindByNameKey(ctx context.Context, nameKey string) (domain.Document, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Document], error)
	// ListByRule returns documents with the rule attached; used to block rule deletion.
	ListByRule(ctx context.Context, ruleID string) ([]domain.Document, error)
}

// DepartmentRepository persists the organisational departments.
type DepartmentRepository interface {
	Insert(ctx context.Context, dep domain.Department) error
	// Rename is the only permitted mutation after creation.
	Rename(ctx context.Context, departmentID, name string, updatedAt time.Time) (domain.Department, error)
	FindByID(ctx context.Context, departmentID string) (domain.Department, error)
	FindByNameKey(ctx context.Context, nameKey string) (domain.Department, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Department], error)
}

// PositionRepository persists positions, each owned by exactly one department.
type PositionRepository interface {
	Insert(ctx context.Context, pos domain.Position) error
	Update(ctx context.Context, pos domain.Position) error
	Delete(ctx context.Context, positionID string) error
	FindByID(ctx context.Context, positionID string) (domain.Position, error)
	FindByNameKey(ctx context.Context, departmentID, nameKey string) (domain.Position, error)
	ListByDepartment(ctx context.Context, departmentID string, pager domain.Pagination) (domain.CursorPage[domain.Position], error)
}

// MatrixRepository owns the compliance grid documents. Mutations run inside a
// storage transaction so structural changes are serialized per matrix: two
// concurrent Mutate calls commit one after the other against the latest shape,
// never merged.
type MatrixRepository interface {
	Insert(ctx context.Context, matrix domain.Matrix) error
	FindByID(ctx context.Context, matrixID string) (domain.Matrix, error)
	FindByDepartment(ctx context.Context, departmentID string) (domain.Matrix, error)
	// Mutate loads the matrix, applies fn, bumps the matrix version, and
	// commits atomically. Errors returned by fn abort the transaction without
	// persisting anything and surface unchanged to the caller.
	Mutate(ctx context.Context, matrixID string, fn func(matrix *domain.Matrix) error) (domain.Matrix, error)
	// ColumnInUse reports whether any matrix carries the document as a column
	// with at least one row present (i.e. cells exist for the column).
	ColumnInUse(ctx context.Context, documentID string) (bool, error)
	// RowInUse reports whether any matrix carries the position as a row.
	RowInUse(ctx context.Context, positionID string) (bool, error)
}

// AuditLogFilter describes the query inputs accepted by audit log listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// AuditLogRepository stores immutable audit entries for admin review.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
