package services

import (
	"context"
	"time"

	domain "github.com/flightline-academy/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination             = domain.Pagination
	SortOrder              = domain.SortOrder
	Actor                  = domain.Actor
	Department             = domain.Department
	Position               = domain.Position
	Rule                   = domain.Rule
	Document               = domain.Document
	RuleValue              = domain.RuleValue
	Cell                   = domain.Cell
	CellKey                = domain.CellKey
	CellStatus             = domain.CellStatus
	Matrix                 = domain.Matrix
	TimeWindow             = domain.TimeWindow
	WindowKind             = domain.WindowKind
	AuditLogEntry          = domain.AuditLogEntry
	SystemHealthReport     = domain.SystemHealthReport
	SignedEvidenceResponse = domain.SignedEvidenceResponse
)

// CellAction names a state machine transition requested against a cell.
type CellAction string

const (
	// ActionDraft saves head-of-department content, moving in_progress or drafted cells to drafted.
	ActionDraft CellAction = "draft"
	// ActionSubmit moves a drafted cell to pending review.
	ActionSubmit CellAction = "submit"
	// ActionApprove records a positive reviewer decision on a pending cell.
	ActionApprove CellAction = "approve"
	// ActionReject records a negative reviewer decision with a reason.
	ActionReject CellAction = "reject"
	// ActionRevise reopens a rejected cell for head-of-department rework.
	ActionRevise CellAction = "revise"
)

// ParseCellAction converts a raw string into a CellAction, reporting whether
// the value belongs to the closed set.
func ParseCellAction(raw string) (CellAction, bool) {
	switch CellAction(raw) {
	case ActionDraft, ActionSubmit, ActionApprove, ActionReject, ActionRevise:
		return CellAction(raw), true
	}
	return "", false
}

// CatalogService owns the rule and document-type catalogs feeding matrix columns.
type CatalogService interface {
	CreateRule(ctx context.Context, cmd CreateRuleCommand) (Rule, error)
	UpdateRule(ctx context.Context, cmd UpdateRuleCommand) (Rule, error)
	DeleteRule(ctx context.Context, cmd DeleteRuleCommand) error
	GetRule(ctx context.Context, ruleID string) (Rule, error)
	ListRules(ctx context.Context, pager Pagination) (domain.CursorPage[Rule], error)

	CreateDocument(ctx context.Context, cmd CreateDocumentCommand) (Document, error)
	UpdateDocument(ctx context.Context, cmd UpdateDocumentCommand) (Document, error)
	AttachRule(ctx context.Context, cmd AttachRuleCommand) (Document, error)
	DetachRule(ctx context.Context, cmd AttachRuleCommand) (Document, error)
	RemoveDocument(ctx context.Context, cmd DeleteDocumentCommand) error
	GetDocument(ctx context.Context, documentID string) (Document, error)
	ListDocuments(ctx context.Context, pager Pagination) (domain.CursorPage[Document], error)
}

// CreateRuleCommand carries inputs for rule creation.
type CreateRuleCommand struct {
	Actor       Actor
	Name        string
	Description string
}

// UpdateRuleCommand carries inputs for rule updates.
type UpdateRuleCommand struct {
	Actor       Actor
	RuleID      string
	Name        string
	Description string
}

// DeleteRuleCommand identifies the rule to remove.
type DeleteRuleCommand struct {
	Actor  Actor
	RuleID string
}

// CreateDocumentCommand carries inputs for document-type creation.
type CreateDocumentCommand struct {
	Actor       Actor
	Name        string
	Description string
	Required    bool
	RuleIDs     []string
}

// UpdateDocumentCommand carries inputs for document-type updates.
type UpdateDocumentCommand struct {
	Actor       Actor
	DocumentID  string
	Name        string
	Description string
	Required    *bool
}

// AttachRuleCommand binds or unbinds a rule on a document type.
type AttachRuleCommand struct {
	Actor      Actor
	DocumentID string
	RuleID     string
}

// DeleteDocumentCommand identifies the document type to remove.
type DeleteDocumentCommand struct {
	Actor      Actor
	DocumentID string
}

// OrgService owns the department and position hierarchy feeding matrix rows.
type OrgService interface {
	CreateDepartment(ctx context.Context, cmd CreateDepartmentCommand) (Department, error)
	RenameDepartment(ctx context.Context, cmd RenameDepartmentCommand) (Department, error)
	GetDepartment(ctx context.Context, departmentID string) (Department, error)
	ListDepartments(ctx context.Context, pager Pagination) (domain.CursorPage[Department], error)

	CreatePosition(ctx context.Context, cmd CreatePositionCommand) (Position, error)
	UpdatePosition(ctx context.Context, cmd UpdatePositionCommand) (Position, error)
	DeletePosition(ctx context.Context, cmd DeletePositionCommand) error
	GetPosition(ctx context.Context, positionID string) (Position, error)
	ListPositions(ctx context.Context, departmentID string, pager Pagination) (domain.CursorPage[Position], error)
}

// CreateDepartmentCommand carries inputs for department creation.
type CreateDepartmentCommand struct {
	Actor Actor
	Name  string
}

// RenameDepartmentCommand renames a department, the only permitted update.
type RenameDepartmentCommand struct {
	Actor        Actor
	DepartmentID string
	Name         string
}

// CreatePositionCommand carries inputs for position creation.
type CreatePositionCommand struct {
	Actor        Actor
	DepartmentID string
	Name         string
}

// UpdatePositionCommand carries inputs for position updates.
type UpdatePositionCommand struct {
	Actor      Actor
	PositionID string
	Name       string
}

// DeletePositionCommand identifies the position to remove.
type DeletePositionCommand struct {
	Actor      Actor
	PositionID string
}

// MatrixService is the compliance core: grid shape, cell content, the cell
// state machine, bulk submission, and the dual time windows.
type MatrixService interface {
	CreateMatrix(ctx context.Context, cmd CreateMatrixCommand) (Matrix, error)
	GetMatrix(ctx context.Context, matrixID string) (Matrix, error)
	GetMatrixByDepartment(ctx context.Context, departmentID string) (Matrix, error)
	GetCell(ctx context.Context, matrixID string, key CellKey) (Cell, error)

	AddRows(ctx context.Context, cmd StructuralCommand) (Matrix, error)
	AddColumns(ctx context.Context, cmd StructuralCommand) (Matrix, error)
	RemoveRow(ctx context.Context, cmd StructuralCommand) (Matrix, error)
	RemoveColumn(ctx context.Context, cmd StructuralCommand) (Matrix, error)
	Clear(ctx context.Context, cmd ClearMatrixCommand) (Matrix, error)

	UpdateCellValues(ctx context.Context, cmd UpdateCellCommand) (Cell, error)
	Transition(ctx context.Context, cmd TransitionCommand) (Cell, error)
	SubmitForReview(ctx context.Context, cmd BulkSubmitCommand) (Matrix, error)

	SetDeadlineWindow(ctx context.Context, cmd SetWindowCommand) (Matrix, error)
	SetActiveWindow(ctx context.Context, cmd SetWindowCommand) (Matrix, error)
	EffectiveWindow(ctx context.Context, matrixID string) (WindowKind, TimeWindow, error)
}

// CreateMatrixCommand creates the empty grid for a department.
type CreateMatrixCommand struct {
	Actor        Actor
	DepartmentID string
}

// StructuralCommand addresses row/column additions and removals. IDs holds
// position ids for row operations and document ids for column operations;
// removals take exactly one id.
type StructuralCommand struct {
	Actor    Actor
	MatrixID string
	IDs      []string
}

// ClearMatrixCommand removes every row, column, and cell from the matrix.
type ClearMatrixCommand struct {
	Actor    Actor
	MatrixID string
}

// UpdateCellCommand replaces a cell's rule values and evidence reference.
// ExpectedVersion carries the caller's last-observed cell version for the
// compare-and-swap check; nil skips the check. A nil EvidenceRef leaves the
// stored reference unchanged; an empty non-nil value clears it.
type UpdateCellCommand struct {
	Actor           Actor
	MatrixID        string
	Key             CellKey
	RuleValues      []RuleValue
	EvidenceRef     *string
	ExpectedVersion *int64
}

// TransitionCommand requests one state machine action against a cell.
type TransitionCommand struct {
	Actor           Actor
	MatrixID        string
	Key             CellKey
	Action          CellAction
	Reason          string
	ExpectedVersion *int64
}

// BulkSubmitCommand submits drafted cells for review atomically. An empty
// Keys selector means every drafted cell in the matrix.
type BulkSubmitCommand struct {
	Actor    Actor
	MatrixID string
	Keys     []CellKey
}

// SetWindowCommand configures one of the matrix time windows.
type SetWindowCommand struct {
	Actor    Actor
	MatrixID string
	Start    time.Time
	End      time.Time
}

// EvidenceService issues signed URLs for certificate files referenced by cells.
// The core never stores file bytes, only the evidence reference.
type EvidenceService interface {
	UploadURL(ctx context.Context, cmd EvidenceURLCommand) (SignedEvidenceResponse, error)
	DownloadURL(ctx context.Context, cmd EvidenceURLCommand) (SignedEvidenceResponse, error)
}

// EvidenceURLCommand identifies the cell whose evidence object is addressed.
type EvidenceURLCommand struct {
	Actor       Actor
	MatrixID    string
	Key         CellKey
	Filename    string
	ContentType string
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogRecord captures one auditable mutation before sanitisation.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures a before/after pair for one field.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogFilter describes audit log query inputs at the service boundary.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// TransitionNotifier fans transition outcomes out to the notification
// pipeline. Delivery is best-effort and never affects the mutation result.
type TransitionNotifier interface {
	NotifyTransition(ctx context.Context, event TransitionEvent) error
}

// TransitionEvent describes one attempted cell or matrix transition.
type TransitionEvent struct {
	Type           string         `json:"type"`
	MatrixID       string         `json:"matrixId"`
	DepartmentID   string         `json:"departmentId,omitempty"`
	PositionID     string         `json:"positionId,omitempty"`
	DocumentID     string         `json:"documentId,omitempty"`
	Action         string         `json:"action,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId"`
	Succeeded      bool           `json:"succeeded"`
	FailureCode    string         `json:"failureCode,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SystemService aggregates process-level utilities for health and admin endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}
