package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Department is an organisational unit owning positions and exactly one
// compliance matrix. Immutable after creation except for rename.
type Department struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is a staff position belonging to exactly one department. Positions
// become matrix rows.
type Position struct {
	ID           string
	DepartmentID string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Rule is a named validation constraint attachable to document types, e.g.
// "minimum TOEIC score".
type Rule struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is a catalog entry describing a certificate or document type, not
// an uploaded instance. Documents become matrix columns.
type Document struct {
	ID          string
	Name        string
	Description string
	Required    bool
	RuleIDs     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasRule reports whether the rule is attached to this document.
func (d Document) HasRule(ruleID string) bool {
	for _, id := range d.RuleIDs {
		if id == ruleID {
			return true
		}
	}
	return false
}

// RuleValue binds a concrete expected value to a rule for one matrix cell.
type RuleValue struct {
	RuleID string
	Value  string
}

// CellStatus enumerates the compliance cell lifecycle states.
type CellStatus string

const (
	// CellStatusInProgress is the initial state of every cell.
	CellStatusInProgress CellStatus = "in_progress"
	// CellStatusDrafted indicates a head of department saved cell content.
	CellStatusDrafted CellStatus = "drafted"
	// CellStatusPending indicates the cell awaits a reviewer decision.
	CellStatusPending CellStatus = "pending"
	// CellStatusApproved is terminal; the cell passed review.
	CellStatusApproved CellStatus = "approved"
	// CellStatusRejected indicates the reviewer rejected the cell with a reason.
	CellStatusRejected CellStatus = "rejected"
)

// ParseCellStatus converts a raw string into a CellStatus, reporting whether
// the value belongs to the closed enumeration.
func ParseCellStatus(raw string) (CellStatus, bool) {
	switch CellStatus(raw) {
	case CellStatusInProgress, CellStatusDrafted, CellStatusPending, CellStatusApproved, CellStatusRejected:
		return CellStatus(raw), true
	}
	return "", false
}

// Terminal reports whether the status counts as settled for window flips:
// approved cells are done, rejected cells carry a recorded decision.
func (s CellStatus) Terminal() bool {
	return s == CellStatusApproved || s == CellStatusRejected
}

// Role enumerates the portal roles supplied by the identity service.
type Role string

const (
	// RoleAdmin passes every authorisation gate.
	RoleAdmin Role = "admin"
	// RoleTrainingDirector configures catalogs, matrix shape, and windows, and submits cells for review.
	RoleTrainingDirector Role = "training_director"
	// RoleHeadOfDepartment fills and revises cells for their department.
	RoleHeadOfDepartment Role = "head_of_department"
	// RoleReviewer is a delegate authorised to decide pending cells.
	RoleReviewer Role = "reviewer"
	// RoleAcademicStaff is a read-mostly dashboard role.
	RoleAcademicStaff Role = "academic_staff"
	// RoleTrainee is a read-mostly dashboard role.
	RoleTrainee Role = "trainee"
)

// Actor identifies the authenticated principal behind a mutation.
type Actor struct {
	ID           string
	DepartmentID string
	Roles        []Role
}

// HasRole reports whether the actor carries the role. Admin satisfies every check.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// IsReviewer reports whether the actor may decide pending cells: training
// directors review by definition, delegates carry the explicit reviewer role.
func (a Actor) IsReviewer() bool {
	return a.HasRole(RoleReviewer) || a.HasRole(RoleTrainingDirector)
}

// CellKey addresses one cell inside a matrix.
type CellKey struct {
	PositionID string
	DocumentID string
}

// Cell tracks a single position's compliance state for one document type.
// Invariant: RejectReason is non-empty exactly when Status is rejected.
type Cell struct {
	PositionID   string
	DocumentID   string
	Status       CellStatus
	RuleValues   []RuleValue
	RejectReason string
	EvidenceRef  string
	Version      int64
	UpdatedAt    time.Time
	UpdatedBy    string
}

// Key returns the cell's matrix address.
func (c Cell) Key() CellKey {
	return CellKey{PositionID: c.PositionID, DocumentID: c.DocumentID}
}

// NewCell returns a fresh in-progress cell for the given pair.
func NewCell(positionID, documentID string) Cell {
	return Cell{
		PositionID: positionID,
		DocumentID: documentID,
		Status:     CellStatusInProgress,
	}
}

// TimeWindow is a start/end pair; either bound may be unset while the window
// is being configured.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

// Populated reports whether both bounds are set.
func (w TimeWindow) Populated() bool {
	return w.Start != nil && w.End != nil
}

// Contains reports whether t falls inside the window. An unpopulated window
// contains nothing.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Populated() {
		return false
	}
	return !t.Before(*w.Start) && t.Before(*w.End)
}

// WindowKind names which window currently governs a matrix.
type WindowKind string

const (
	// WindowNone means neither window is populated.
	WindowNone WindowKind = "none"
	// WindowDeadline is the submission phase window.
	WindowDeadline WindowKind = "deadline"
	// WindowActive is the enforcement phase window.
	WindowActive WindowKind = "active"
)

// Matrix is the position-by-document compliance grid for one department.
// Cells are sparse: a (row, column) pair with no stored cell reads as a fresh
// in-progress cell, so structural changes never allocate the full grid.
type Matrix struct {
	ID           string
	DepartmentID string
	Rows         []string
	Columns      []string
	Cells        map[CellKey]Cell
	Deadline     TimeWindow
	Active       TimeWindow
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRow reports whether the position is a row of the matrix.
func (m Matrix) HasRow(positionID string) bool {
	for _, id := range m.Rows {
		if id == positionID {
			return true
		}
	}
	return false
}

// HasColumn reports whether the document is a column of the matrix.
func (m Matrix) HasColumn(documentID string) bool {
	for _, id := range m.Columns {
		if id == documentID {
			return true
		}
	}
	return false
}

// CellAt resolves the cell for the pair, materialising the implicit
// in-progress cell when the pair exists but no cell was stored yet. The second
// return is false when the pair is not part of the current grid shape.
func (m Matrix) CellAt(key CellKey) (Cell, bool) {
	if !m.HasRow(key.PositionID) || !m.HasColumn(key.DocumentID) {
		return Cell{}, false
	}
	if cell, ok := m.Cells[key]; ok {
		return cell, true
	}
	return NewCell(key.PositionID, key.DocumentID), true
}

// EffectiveWindow collapses the two windows into the single authoritative one:
// the active window wins whenever populated, then the deadline window, then
// none. All display and authorisation decisions go through this accessor.
func (m Matrix) EffectiveWindow() (WindowKind, TimeWindow) {
	if m.Active.Populated() {
		return WindowActive, m.Active
	}
	if m.Deadline.Populated() {
		return WindowDeadline, m.Deadline
	}
	return WindowNone, TimeWindow{}
}

// MaterialisedCells returns one cell per (row, column) pair in the current
// shape, substituting implicit in-progress cells for pairs never written.
func (m Matrix) MaterialisedCells() []Cell {
	cells := make([]Cell, 0, len(m.Rows)*len(m.Columns))
	for _, positionID := range m.Rows {
		for _, documentID := range m.Columns {
			key := CellKey{PositionID: positionID, DocumentID: documentID}
			if cell, ok := m.Cells[key]; ok {
				cells = append(cells, cell)
				continue
			}
			cells = append(cells, NewCell(positionID, documentID))
		}
	}
	return cells
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// SignedEvidenceResponse carries a time-limited URL for uploading or fetching
// certificate evidence referenced by a cell.
type SignedEvidenceResponse struct {
	URL         string
	Method      string
	Headers     map[string]string
	EvidenceRef string
	ExpiresAt   time.Time
}

// HealthStatus values reported by readiness probes.
const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe results for readiness checks.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
