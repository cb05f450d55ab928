package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/repositories"
)

const (
	matrixIDPrefix = "mtx_"

	matrixEventCellTransition = "matrix.cell.transition"
	matrixEventBulkSubmit     = "matrix.bulk.submit"
	matrixEventWindowChanged  = "matrix.window.changed"

	defaultMatrixOpTimeout  = 5 * time.Second
	defaultTimeoutAttempts  = 3
	defaultRetryInitialWait = 50 * time.Millisecond
	defaultRetryMaxWait     = 500 * time.Millisecond
)

type transitionKey struct {
	from   domain.CellStatus
	action CellAction
}

type transitionRule struct {
	to      domain.CellStatus
	allowed func(domain.Actor) bool
}

// cellTransitions is the closed state machine table. Adding a role or action
// is a table edit, not a conditional hunt.
var cellTransitions = map[transitionKey]transitionRule{
	{domain.CellStatusInProgress, ActionDraft}: {domain.CellStatusDrafted, isHeadOfDepartment},
	{domain.CellStatusDrafted, ActionDraft}:    {domain.CellStatusDrafted, isHeadOfDepartment},
	{domain.CellStatusDrafted, ActionSubmit}:   {domain.CellStatusPending, isTrainingDirector},
	{domain.CellStatusPending, ActionApprove}:  {domain.CellStatusApproved, isReviewer},
	{domain.CellStatusPending, ActionReject}:   {domain.CellStatusRejected, isReviewer},
	{domain.CellStatusRejected, ActionRevise}:  {domain.CellStatusDrafted, isHeadOfDepartment},
}

func isHeadOfDepartment(actor domain.Actor) bool { return actor.HasRole(domain.RoleHeadOfDepartment) }
func isTrainingDirector(actor domain.Actor) bool { return actor.HasRole(domain.RoleTrainingDirector) }
func isReviewer(actor domain.Actor) bool         { return actor.IsReviewer() }

var matrixMeter = otel.Meter("github.com/flightline-academy/api/internal/services")

// MatrixServiceDeps bundles collaborators required to construct the matrix service.
type MatrixServiceDeps struct {
	Matrices        repositories.MatrixRepository
	Positions       repositories.PositionRepository
	Documents       repositories.DocumentRepository
	Departments     repositories.DepartmentRepository
	Audit           AuditLogService
	Notifier        TransitionNotifier
	Clock           func() time.Time
	IDGenerator     func() string
	OpTimeout       time.Duration
	TimeoutAttempts int
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type matrixService struct {
	matrices    repositories.MatrixRepository
	positions   repositories.PositionRepository
	documents   repositories.DocumentRepository
	departments repositories.DepartmentRepository
	audit       AuditLogService
	notifier    TransitionNotifier
	clock       func() time.Time
	newID       func() string
	opTimeout   time.Duration
	attempts    int
	logger      func(context.Context, string, map[string]any)

	transitions metric.Int64Counter
}

var _ MatrixService = (*matrixService)(nil)

// NewMatrixService wires dependencies into a concrete MatrixService implementation.
func NewMatrixService(deps MatrixServiceDeps) (MatrixService, error) {
	if deps.Matrices == nil {
		return nil, errors.New("matrix service: matrix repository is required")
	}
	if deps.Positions == nil {
		return nil, errors.New("matrix service: position repository is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("matrix service: document repository is required")
	}
	if deps.Departments == nil {
		return nil, errors.New("matrix service: department repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	opTimeout := deps.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultMatrixOpTimeout
	}
	attempts := deps.TimeoutAttempts
	if attempts <= 0 {
		attempts = defaultTimeoutAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	counter, err := matrixMeter.Int64Counter("matrix.cell.transitions",
		metric.WithDescription("Cell state machine transitions by action and outcome."))
	if err != nil {
		counter = nil
	}

	return &matrixService{
		matrices:    deps.Matrices,
		positions:   deps.Positions,
		documents:   deps.Documents,
		departments: deps.Departments,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		opTimeout:   opTimeout,
		attempts:    attempts,
		logger:      logger,
		transitions: counter,
	}, nil
}

func (s *matrixService) CreateMatrix(ctx context.Context, cmd CreateMatrixCommand) (Matrix, error) {
	departmentID := strings.TrimSpace(cmd.DepartmentID)
	if departmentID == "" {
		return Matrix{}, fmt.Errorf("%w: department id is required", ErrMatrixInvalidInput)
	}
	if !isTrainingDirector(cmd.Actor) {
		return Matrix{}, ErrMatrixUnauthorized
	}

	if err := s.bounded(ctx, func(ctx context.Context) error {
		_, err := s.departments.FindByID(ctx, departmentID)
		return err
	}); err != nil {
		if isRepoNotFound(err) {
			return Matrix{}, fmt.Errorf("%w: department %s", ErrOrgDepartmentNotFound, departmentID)
		}
		return Matrix{}, err
	}

	if err := s.bounded(ctx, func(ctx context.Context) error {
		_, err := s.matrices.FindByDepartment(ctx, departmentID)
		return err
	}); err == nil {
		return Matrix{}, ErrMatrixExists
	} else if !isRepoNotFound(err) {
		return Matrix{}, err
	}

	now := s.clock()
	matrix := domain.Matrix{
		ID:           matrixIDPrefix + s.newID(),
		DepartmentID: departmentID,
		Cells:        map[domain.CellKey]domain.Cell{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.bounded(ctx, func(ctx context.Context) error {
		return s.matrices.Insert(ctx, matrix)
	}); err != nil {
		if isRepoConflict(err) {
			return Matrix{}, ErrMatrixExists
		}
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.create", matrix.ID, map[string]any{
		"department_id": departmentID,
	})
	return matrix, nil
}

func (s *matrixService) GetMatrix(ctx context.Context, matrixID string) (Matrix, error) {
	matrixID = strings.TrimSpace(matrixID)
	if matrixID == "" {
		return Matrix{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	var matrix domain.Matrix
	err := s.bounded(ctx, func(ctx context.Context) error {
		var err error
		matrix, err = s.matrices.FindByID(ctx, matrixID)
		return err
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Matrix{}, ErrMatrixNotFound
		}
		return Matrix{}, err
	}
	return matrix, nil
}

func (s *matrixService) GetMatrixByDepartment(ctx context.Context, departmentID string) (Matrix, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return Matrix{}, fmt.Errorf("%w: department id is required", ErrMatrixInvalidInput)
	}
	var matrix domain.Matrix
	err := s.bounded(ctx, func(ctx context.Context) error {
		var err error
		matrix, err = s.matrices.FindByDepartment(ctx, departmentID)
		return err
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Matrix{}, ErrMatrixNotFound
		}
		return Matrix{}, err
	}
	return matrix, nil
}

func (s *matrixService) GetCell(ctx context.Context, matrixID string, key CellKey) (Cell, error) {
	matrix, err := s.GetMatrix(ctx, matrixID)
	if err != nil {
		return Cell{}, err
	}
	cell, ok := matrix.CellAt(key)
	if !ok {
		return Cell{}, ErrMatrixCellNotFound
	}
	return cell, nil
}

// AddRows adds positions as rows. Already-present positions are skipped, not
// rejected, so retried requests converge.
func (s *matrixService) AddRows(ctx context.Context, cmd StructuralCommand) (Matrix, error) {
	if err := s.validateStructural(cmd); err != nil {
		return Matrix{}, err
	}

	// Validate referenced positions outside the transaction; membership in the
	// matrix department is part of the contract, not a storage concern.
	var matrix domain.Matrix
	if err := s.bounded(ctx, func(ctx context.Context) error {
		var err error
		matrix, err = s.matrices.FindByID(ctx, cmd.MatrixID)
		return err
	}); err != nil {
		if isRepoNotFound(err) {
			return Matrix{}, ErrMatrixNotFound
		}
		return Matrix{}, err
	}
	for _, positionID := range cmd.IDs {
		var pos domain.Position
		if err := s.bounded(ctx, func(ctx context.Context) error {
			var err error
			pos, err = s.positions.FindByID(ctx, positionID)
			return err
		}); err != nil {
			if isRepoNotFound(err) {
				return Matrix{}, fmt.Errorf("%w: position %s", ErrOrgPositionNotFound, positionID)
			}
			return Matrix{}, err
		}
		if pos.DepartmentID != matrix.DepartmentID {
			return Matrix{}, fmt.Errorf("%w: position %s belongs to another department", ErrMatrixInvalidInput, positionID)
		}
	}

	now := s.clock()
	updated, err := s.mutate(ctx, cmd.MatrixID, func(m *domain.Matrix) error {
		for _, positionID := range cmd.IDs {
			if m.HasRow(positionID) {
				continue
			}
			m.Rows = append(m.Rows, positionID)
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.rows.add", updated.ID, map[string]any{
		"position_ids": append([]string(nil), cmd.IDs...),
	})
	return updated, nil
}

// AddColumns adds document types as columns with the same idempotency rule as AddRows.
func (s *matrixService) AddColumns(ctx context.Context, cmd StructuralCommand) (Matrix, error) {
	if err := s.validateStructural(cmd); err != nil {
		return Matrix{}, err
	}

	for _, documentID := range cmd.IDs {
		if err := s.bounded(ctx, func(ctx context.Context) error {
			_, err := s.documents.FindByID(ctx, documentID)
			return err
		}); err != nil {
			if isRepoNotFound(err) {
				return Matrix{}, fmt.Errorf("%w: document %s", ErrCatalogDocumentNotFound, documentID)
			}
			return Matrix{}, err
		}
	}

	now := s.clock()
	updated, err := s.mutate(ctx, cmd.MatrixID, func(m *domain.Matrix) error {
		for _, documentID := range cmd.IDs {
			if m.HasColumn(documentID) {
				continue
			}
			m.Columns = append(m.Columns, documentID)
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.columns.add", updated.ID, map[string]any{
		"document_ids": append([]string(nil), cmd.IDs...),
	})
	return updated, nil
}

// RemoveRow deletes the row and every cell in it. Dependent cells are
// discarded without confirmation; callers prompt before invoking.
func (s *matrixService) RemoveRow(ctx context.Context, cmd StructuralCommand) (Matrix, error) {
	if err := s.validateStructural(cmd); err != nil {
		return Matrix{}, err
	}
	if len(cmd.IDs) != 1 {
		return Matrix{}, fmt.Errorf("%w: row removal takes exactly one position id", ErrMatrixInvalidInput)
	}
	positionID := cmd.IDs[0]

	now := s.clock()
	updated, err := s.mutate(ctx, cmd.MatrixID, func(m *domain.Matrix) error {
		if !m.HasRow(positionID) {
			return ErrMatrixRowNotFound
		}
		rows := m.Rows[:0]
		for _, id := range m.Rows {
			if id != positionID {
				rows = append(rows, id)
			}
		}
		m.Rows = rows
		for key := range m.Cells {
			if key.PositionID == positionID {
				delete(m.Cells, key)
			}
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.rows.remove", updated.ID, map[string]any{
		"position_id": positionID,
	})
	return updated, nil
}

// RemoveColumn is symmetric to RemoveRow.
func (s *matrixService) RemoveColumn(ctx context.Context, cmd StructuralCommand) (Matrix, error) {
	if err := s.validateStructural(cmd); err != nil {
		return Matrix{}, err
	}
	if len(cmd.IDs) != 1 {
		return Matrix{}, fmt.Errorf("%w: column removal takes exactly one document id", ErrMatrixInvalidInput)
	}
	documentID := cmd.IDs[0]

	now := s.clock()
	updated, err := s.mutate(ctx, cmd.MatrixID, func(m *domain.Matrix) error {
		if !m.HasColumn(documentID) {
			return ErrMatrixColumnNotFound
		}
		cols := m.Columns[:0]
		for _, id := range m.Columns {
			if id != documentID {
				cols = append(cols, id)
			}
		}
		m.Columns = cols
		for key := range m.Cells {
			if key.DocumentID == documentID {
				delete(m.Cells, key)
			}
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.columns.remove", updated.ID, map[string]any{
		"document_id": documentID,
	})
	return updated, nil
}

// Clear removes all rows, columns, and cells. Windows survive so a cleared
// matrix keeps its schedule.
func (s *matrixService) Clear(ctx context.Context, cmd ClearMatrixCommand) (Matrix, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return Matrix{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if !isTrainingDirector(cmd.Actor) {
		return Matrix{}, ErrMatrixUnauthorized
	}

	now := s.clock()
	updated, err := s.mutate(ctx, matrixID, func(m *domain.Matrix) error {
		m.Rows = nil
		m.Columns = nil
		m.Cells = map[domain.CellKey]domain.Cell{}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.clear", updated.ID, nil)
	return updated, nil
}

// UpdateCellValues replaces rule values and the evidence reference on an
// editable cell. Editing is content work, so it is gated on the head of
// department role, the cell being in_progress or drafted, and the submission
// window still admitting changes.
func (s *matrixService) UpdateCellValues(ctx context.Context, cmd UpdateCellCommand) (Cell, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return Cell{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if strings.TrimSpace(cmd.Key.PositionID) == "" || strings.TrimSpace(cmd.Key.DocumentID) == "" {
		return Cell{}, fmt.Errorf("%w: cell key is required", ErrMatrixInvalidInput)
	}
	if !isHeadOfDepartment(cmd.Actor) {
		return Cell{}, ErrMatrixUnauthorized
	}

	var doc domain.Document
	if err := s.bounded(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.documents.FindByID(ctx, cmd.Key.DocumentID)
		return err
	}); err != nil {
		if isRepoNotFound(err) {
			return Cell{}, fmt.Errorf("%w: document %s", ErrCatalogDocumentNotFound, cmd.Key.DocumentID)
		}
		return Cell{}, err
	}
	for _, rv := range cmd.RuleValues {
		if !doc.HasRule(rv.RuleID) {
			return Cell{}, fmt.Errorf("%w: rule %s", ErrMatrixRuleNotAttached, rv.RuleID)
		}
	}

	now := s.clock()
	var result domain.Cell
	_, err := s.mutate(ctx, matrixID, func(m *domain.Matrix) error {
		if err := s.authoriseDepartment(cmd.Actor, m.DepartmentID); err != nil {
			return err
		}
		if err := editableNow(m, now); err != nil {
			return err
		}
		cell, ok := m.CellAt(cmd.Key)
		if !ok {
			return ErrMatrixCellNotFound
		}
		if cmd.ExpectedVersion != nil && cell.Version != *cmd.ExpectedVersion {
			return ErrMatrixStaleCell
		}
		if cell.Status != domain.CellStatusInProgress && cell.Status != domain.CellStatusDrafted {
			return ErrMatrixCellLocked
		}

		cell.RuleValues = append([]domain.RuleValue(nil), cmd.RuleValues...)
		if cmd.EvidenceRef != nil {
			cell.EvidenceRef = strings.TrimSpace(*cmd.EvidenceRef)
		}
		cell.Version++
		cell.UpdatedAt = now
		cell.UpdatedBy = cmd.Actor.ID
		if m.Cells == nil {
			m.Cells = map[domain.CellKey]domain.Cell{}
		}
		m.Cells[cmd.Key] = cell
		m.UpdatedAt = now
		result = cell
		return nil
	})
	if err != nil {
		return Cell{}, err
	}

	s.recordAudit(ctx, cmd.Actor, "matrix.cell.update", cellRef(matrixID, cmd.Key), map[string]any{
		"rule_values": len(cmd.RuleValues),
	})
	return result, nil
}

// Transition applies one state machine action to a cell under optimistic
// concurrency: a caller operating on a stale read loses with ErrMatrixStaleCell
// and the committed decision stands.
func (s *matrixService) Transition(ctx context.Context, cmd TransitionCommand) (Cell, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return Cell{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if strings.TrimSpace(cmd.Key.PositionID) == "" || strings.TrimSpace(cmd.Key.DocumentID) == "" {
		return Cell{}, fmt.Errorf("%w: cell key is required", ErrMatrixInvalidInput)
	}
	if _, ok := ParseCellAction(string(cmd.Action)); !ok {
		return Cell{}, fmt.Errorf("%w: unknown action %q", ErrMatrixInvalidInput, cmd.Action)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if cmd.Action == ActionReject && reason == "" {
		// Reason completeness outranks state legality so the caller fixes the
		// request before re-reading the cell.
		s.observeTransition(ctx, cmd, "", false, "missing_reason")
		return Cell{}, ErrMatrixMissingReason
	}

	now := s.clock()
	var (
		result   domain.Cell
		previous domain.CellStatus
		deptID   string
	)
	_, err := s.mutate(ctx, matrixID, func(m *domain.Matrix) error {
		deptID = m.DepartmentID
		cell, ok := m.CellAt(cmd.Key)
		if !ok {
			return ErrMatrixCellNotFound
		}
		previous = cell.Status
		if cmd.ExpectedVersion != nil && cell.Version != *cmd.ExpectedVersion {
			return ErrMatrixStaleCell
		}

		rule, ok := cellTransitions[transitionKey{from: cell.Status, action: cmd.Action}]
		if !ok {
			return &InvalidTransitionError{Current: cell.Status, Requested: cmd.Action}
		}
		if !rule.allowed(cmd.Actor) {
			return ErrMatrixUnauthorized
		}
		if err := s.authoriseDepartment(cmd.Actor, m.DepartmentID); err != nil {
			return err
		}

		cell.Status = rule.to
		if rule.to == domain.CellStatusRejected {
			cell.RejectReason = reason
		} else {
			cell.RejectReason = ""
		}
		cell.Version++
		cell.UpdatedAt = now
		cell.UpdatedBy = cmd.Actor.ID
		if m.Cells == nil {
			m.Cells = map[domain.CellKey]domain.Cell{}
		}
		m.Cells[cmd.Key] = cell
		m.UpdatedAt = now
		result = cell
		return nil
	})
	if err != nil {
		s.observeTransition(ctx, cmd, previous, false, failureCode(err))
		s.notify(ctx, TransitionEvent{
			Type:           matrixEventCellTransition,
			MatrixID:       matrixID,
			DepartmentID:   deptID,
			PositionID:     cmd.Key.PositionID,
			DocumentID:     cmd.Key.DocumentID,
			Action:         string(cmd.Action),
			PreviousStatus: string(previous),
			ActorID:        cmd.Actor.ID,
			Succeeded:      false,
			FailureCode:    failureCode(err),
			OccurredAt:     now,
		})
		return Cell{}, err
	}

	s.observeTransition(ctx, cmd, previous, true, "")
	s.notify(ctx, TransitionEvent{
		Type:           matrixEventCellTransition,
		MatrixID:       matrixID,
		DepartmentID:   deptID,
		PositionID:     cmd.Key.PositionID,
		DocumentID:     cmd.Key.DocumentID,
		Action:         string(cmd.Action),
		PreviousStatus: string(previous),
		CurrentStatus:  string(result.Status),
		ActorID:        cmd.Actor.ID,
		Succeeded:      true,
		OccurredAt:     now,
	})
	s.recordAudit(ctx, cmd.Actor, "matrix.cell."+string(cmd.Action), cellRef(matrixID, cmd.Key), map[string]any{
		"from": string(previous),
		"to":   string(result.Status),
	})
	return result, nil
}

// SubmitForReview transitions the selected drafted cells to pending in one
// atomic commit. Any selected cell outside drafted aborts the whole call with
// the offending keys; nothing is persisted in that case.
func (s *matrixService) SubmitForReview(ctx context.Context, cmd BulkSubmitCommand) (Matrix, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return Matrix{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if !isTrainingDirector(cmd.Actor) {
		return Matrix{}, ErrMatrixUnauthorized
	}

	now := s.clock()
	var submitted []domain.CellKey
	updated, err := s.mutate(ctx, matrixID, func(m *domain.Matrix) error {
		selected := cmd.Keys
		if len(selected) == 0 {
			for _, cell := range m.MaterialisedCells() {
				if cell.Status == domain.CellStatusDrafted {
					selected = append(selected, cell.Key())
				}
			}
		}

		// Phase one: check every precondition against the snapshot.
		var offending []domain.CellKey
		cells := make([]domain.Cell, 0, len(selected))
		for _, key := range selected {
			cell, ok := m.CellAt(key)
			if !ok {
				return ErrMatrixCellNotFound
			}
			if cell.Status != domain.CellStatusDrafted {
				offending = append(offending, key)
				continue
			}
			cells = append(cells, cell)
		}
		if len(offending) > 0 {
			sort.Slice(offending, func(i, j int) bool {
				if offending[i].PositionID != offending[j].PositionID {
					return offending[i].PositionID < offending[j].PositionID
				}
				return offending[i].DocumentID < offending[j].DocumentID
			})
			return &BulkPreconditionError{OffendingKeys: offending}
		}
		if err := ctx.Err(); err != nil {
			// Cancellation before commit leaves the matrix untouched.
			return err
		}

		// Phase two: commit every transition.
		if m.Cells == nil {
			m.Cells = map[domain.CellKey]domain.Cell{}
		}
		for _, cell := range cells {
			cell.Status = domain.CellStatusPending
			cell.RejectReason = ""
			cell.Version++
			cell.UpdatedAt = now
			cell.UpdatedBy = cmd.Actor.ID
			m.Cells[cell.Key()] = cell
			submitted = append(submitted, cell.Key())
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.notify(ctx, TransitionEvent{
			Type:        matrixEventBulkSubmit,
			MatrixID:    matrixID,
			ActorID:     cmd.Actor.ID,
			Succeeded:   false,
			FailureCode: failureCode(err),
			OccurredAt:  now,
		})
		return Matrix{}, err
	}

	s.notify(ctx, TransitionEvent{
		Type:       matrixEventBulkSubmit,
		MatrixID:   matrixID,
		ActorID:    cmd.Actor.ID,
		Succeeded:  true,
		OccurredAt: now,
		Metadata:   map[string]any{"submitted": len(submitted)},
	})
	s.recordAudit(ctx, cmd.Actor, "matrix.bulk.submit", matrixID, map[string]any{
		"cells": len(submitted),
	})
	return updated, nil
}

// SetDeadlineWindow configures the submission phase window.
func (s *matrixService) SetDeadlineWindow(ctx context.Context, cmd SetWindowCommand) (Matrix, error) {
	return s.setWindow(ctx, cmd, domain.WindowDeadline)
}

// SetActiveWindow configures the enforcement phase window. It refuses to open
// while the deadline window is live with unsettled cells, and a refusal
// changes no window field.
func (s *matrixService) SetActiveWindow(ctx context.Context, cmd SetWindowCommand) (Matrix, error) {
	return s.setWindow(ctx, cmd, domain.WindowActive)
}

func (s *matrixService) setWindow(ctx context.Context, cmd SetWindowCommand, kind domain.WindowKind) (Matrix, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return Matrix{}, fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if !isTrainingDirector(cmd.Actor) {
		return Matrix{}, ErrMatrixUnauthorized
	}
	if cmd.Start.IsZero() || cmd.End.IsZero() || !cmd.Start.Before(cmd.End) {
		return Matrix{}, ErrMatrixInvalidWindowRange
	}

	start := cmd.Start.UTC()
	end := cmd.End.UTC()
	now := s.clock()
	updated, err := s.mutate(ctx, matrixID, func(m *domain.Matrix) error {
		if kind == domain.WindowActive && m.Deadline.Populated() {
			for _, cell := range m.MaterialisedCells() {
				if !cell.Status.Terminal() {
					return ErrMatrixDeadlinePending
				}
			}
		}
		window := domain.TimeWindow{Start: &start, End: &end}
		if kind == domain.WindowActive {
			m.Active = window
		} else {
			m.Deadline = window
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}

	s.notify(ctx, TransitionEvent{
		Type:       matrixEventWindowChanged,
		MatrixID:   matrixID,
		ActorID:    cmd.Actor.ID,
		Succeeded:  true,
		OccurredAt: now,
		Metadata:   map[string]any{"window": string(kind)},
	})
	s.recordAudit(ctx, cmd.Actor, "matrix.window.set", matrixID, map[string]any{
		"window": string(kind),
		"start":  start,
		"end":    end,
	})
	return updated, nil
}

// EffectiveWindow resolves the single authoritative window for the matrix so
// no consumer decides precedence on its own.
func (s *matrixService) EffectiveWindow(ctx context.Context, matrixID string) (WindowKind, TimeWindow, error) {
	matrix, err := s.GetMatrix(ctx, matrixID)
	if err != nil {
		return domain.WindowNone, TimeWindow{}, err
	}
	kind, window := matrix.EffectiveWindow()
	return kind, window, nil
}

func (s *matrixService) validateStructural(cmd StructuralCommand) error {
	if strings.TrimSpace(cmd.MatrixID) == "" {
		return fmt.Errorf("%w: matrix id is required", ErrMatrixInvalidInput)
	}
	if len(cmd.IDs) == 0 {
		return fmt.Errorf("%w: at least one id is required", ErrMatrixInvalidInput)
	}
	for _, id := range cmd.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty id", ErrMatrixInvalidInput)
		}
	}
	if !isTrainingDirector(cmd.Actor) {
		return ErrMatrixUnauthorized
	}
	return nil
}

// authoriseDepartment confines the head-of-department role to its own
// department; training directors, reviewers, and admins span departments.
func (s *matrixService) authoriseDepartment(actor domain.Actor, departmentID string) error {
	if actor.HasRole(domain.RoleAdmin) || actor.HasRole(domain.RoleTrainingDirector) || actor.HasRole(domain.RoleReviewer) {
		return nil
	}
	if actor.DepartmentID != "" && actor.DepartmentID != departmentID {
		return ErrMatrixUnauthorized
	}
	return nil
}

// editableNow gates content edits on the effective window: an open deadline
// window (or no window at all, while the grid is being built) admits edits;
// a closed deadline window or an enforcement phase does not.
func editableNow(m *domain.Matrix, now time.Time) error {
	kind, window := m.EffectiveWindow()
	switch kind {
	case domain.WindowNone:
		return nil
	case domain.WindowDeadline:
		if window.Contains(now) {
			return nil
		}
		return ErrMatrixWindowClosed
	default:
		return ErrMatrixWindowClosed
	}
}

// mutate runs fn under the repository transaction with the bounded-call and
// capped-retry policy applied.
func (s *matrixService) mutate(ctx context.Context, matrixID string, fn func(*domain.Matrix) error) (domain.Matrix, error) {
	var matrix domain.Matrix
	err := s.bounded(ctx, func(ctx context.Context) error {
		var err error
		matrix, err = s.matrices.Mutate(ctx, matrixID, fn)
		return err
	})
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Matrix{}, ErrMatrixNotFound
		}
		return domain.Matrix{}, err
	}
	return matrix, nil
}

// bounded caps each storage call with the fixed op timeout and retries only
// timeout-class failures, a small fixed number of times with gax backoff.
// Every other error surfaces immediately for the caller to act on.
func (s *matrixService) bounded(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := gax.Backoff{
		Initial: defaultRetryInitialWait,
		Max:     defaultRetryMaxWait,
	}
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return translateTimeout(err)
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !isTimeout(err) || ctx.Err() != nil {
			return translateTimeout(err)
		}
		lastErr = err
		s.logger(ctx, "matrix storage call timed out", map[string]any{"attempt": attempt + 1})
	}
	return translateTimeout(lastErr)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func translateTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrMatrixTimeout
	}
	return err
}

func (s *matrixService) observeTransition(ctx context.Context, cmd TransitionCommand, from domain.CellStatus, ok bool, code string) {
	if s.transitions == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("action", string(cmd.Action)),
		attribute.String("outcome", outcome),
	}
	if from != "" {
		attrs = append(attrs, attribute.String("from", string(from)))
	}
	if code != "" {
		attrs = append(attrs, attribute.String("failure_code", code))
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (s *matrixService) notify(ctx context.Context, event TransitionEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyTransition(ctx, event); err != nil {
		s.logger(ctx, "transition notification failed", map[string]any{
			"matrix_id": event.MatrixID,
			"type":      event.Type,
			"error":     err.Error(),
		})
	}
}

func (s *matrixService) recordAudit(ctx context.Context, actor domain.Actor, action, targetRef string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      actor.ID,
		ActorType:  "staff",
		Action:     action,
		TargetRef:  targetRef,
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func cellRef(matrixID string, key domain.CellKey) string {
	return fmt.Sprintf("/matrices/%s/cells/%s/%s", matrixID, key.PositionID, key.DocumentID)
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, ErrMatrixStaleCell):
		return "stale_state"
	case errors.Is(err, ErrMatrixInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrMatrixMissingReason):
		return "missing_reason"
	case errors.Is(err, ErrMatrixCellLocked):
		return "cell_locked"
	case errors.Is(err, ErrMatrixUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMatrixCellNotFound):
		return "cell_not_found"
	case errors.Is(err, ErrMatrixBulkPrecondition):
		return "bulk_precondition_failed"
	case errors.Is(err, ErrMatrixTimeout):
		return "timeout"
	case errors.Is(err, ErrMatrixWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrMatrixDeadlinePending):
		return "deadline_pending"
	case err != nil:
		return "internal"
	default:
		return ""
	}
}
