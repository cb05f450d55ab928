package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/flightline-academy/api/internal/domain"
)

type matrixRepoErr struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *matrixRepoErr) Error() string       { return e.msg }
func (e *matrixRepoErr) IsNotFound() bool    { return e.notFound }
func (e *matrixRepoErr) IsConflict() bool    { return e.conflict }
func (e *matrixRepoErr) IsUnavailable() bool { return e.unavailable }

var errMatrixMissing = &matrixRepoErr{msg: "matrix not found", notFound: true}

// memMatrixRepo keeps one matrix in memory and runs Mutate against a copy so
// an aborted mutation leaves the stored matrix untouched, mirroring the
// transactional contract.
type memMatrixRepo struct {
	mu     sync.Mutex
	matrix domain.Matrix
	stored bool

	findFn        func(context.Context, string) (domain.Matrix, error)
	insertFn      func(context.Context, domain.Matrix) error
	byDeptFn      func(context.Context, string) (domain.Matrix, error)
	columnInUseFn func(context.Context, string) (bool, error)
	rowInUseFn    func(context.Context, string) (bool, error)
}

func (r *memMatrixRepo) Insert(ctx context.Context, matrix domain.Matrix) error {
	if r.insertFn != nil {
		return r.insertFn(ctx, matrix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matrix = matrix
	r.stored = true
	return nil
}

func (r *memMatrixRepo) FindByID(ctx context.Context, matrixID string) (domain.Matrix, error) {
	if r.findFn != nil {
		return r.findFn(ctx, matrixID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stored || r.matrix.ID != matrixID {
		return domain.Matrix{}, errMatrixMissing
	}
	return cloneMatrix(r.matrix), nil
}

func (r *memMatrixRepo) FindByDepartment(ctx context.Context, departmentID string) (domain.Matrix, error) {
	if r.byDeptFn != nil {
		return r.byDeptFn(ctx, departmentID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stored || r.matrix.DepartmentID != departmentID {
		return domain.Matrix{}, errMatrixMissing
	}
	return cloneMatrix(r.matrix), nil
}

func (r *memMatrixRepo) Mutate(ctx context.Context, matrixID string, fn func(*domain.Matrix) error) (domain.Matrix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stored || r.matrix.ID != matrixID {
		return domain.Matrix{}, errMatrixMissing
	}
	working := cloneMatrix(r.matrix)
	if err := fn(&working); err != nil {
		return domain.Matrix{}, err
	}
	working.Version++
	r.matrix = working
	return cloneMatrix(working), nil
}

func (r *memMatrixRepo) ColumnInUse(ctx context.Context, documentID string) (bool, error) {
	if r.columnInUseFn != nil {
		return r.columnInUseFn(ctx, documentID)
	}
	return false, nil
}

func (r *memMatrixRepo) RowInUse(ctx context.Context, positionID string) (bool, error) {
	if r.rowInUseFn != nil {
		return r.rowInUseFn(ctx, positionID)
	}
	return false, nil
}

func (r *memMatrixRepo) snapshot() domain.Matrix {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMatrix(r.matrix)
}

func cloneMatrix(m domain.Matrix) domain.Matrix {
	out := m
	out.Rows = append([]string(nil), m.Rows...)
	out.Columns = append([]string(nil), m.Columns...)
	out.Cells = make(map[domain.CellKey]domain.Cell, len(m.Cells))
	for key, cell := range m.Cells {
		out.Cells[key] = cell
	}
	return out
}

type stubPositionRepo struct {
	findFn func(context.Context, string) (domain.Position, error)
}

func (s *stubPositionRepo) Insert(context.Context, domain.Position) error { return nil }
func (s *stubPositionRepo) Update(context.Context, domain.Position) error { return nil }
func (s *stubPositionRepo) Delete(context.Context, string) error          { return nil }

func (s *stubPositionRepo) FindByID(ctx context.Context, positionID string) (domain.Position, error) {
	if s.findFn != nil {
		return s.findFn(ctx, positionID)
	}
	return domain.Position{ID: positionID, DepartmentID: "dept_flight"}, nil
}

func (s *stubPositionRepo) FindByNameKey(context.Context, string, string) (domain.Position, error) {
	return domain.Position{}, errors.New("not implemented")
}

func (s *stubPositionRepo) ListByDepartment(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Position], error) {
	return domain.CursorPage[domain.Position]{}, nil
}

type stubDocumentRepo struct {
	findFn func(context.Context, string) (domain.Document, error)
}

func (s *stubDocumentRepo) Insert(context.Context, domain.Document) error { return nil }
func (s *stubDocumentRepo) Update(context.Context, domain.Document) error { return nil }
func (s *stubDocumentRepo) Delete(context.Context, string) error          { return nil }

func (s *stubDocumentRepo) FindByID(ctx context.Context, documentID string) (domain.Document, error) {
	if s.findFn != nil {
		return s.findFn(ctx, documentID)
	}
	return domain.Document{ID: documentID, RuleIDs: []string{"rule_toeic"}}, nil
}

func (s *stubDocumentRepo) FindByNameKey(context.Context, string) (domain.Document, error) {
	return domain.Document{}, errors.New("not implemented")
}

func (s *stubDocumentRepo) List(context.Context, domain.Pagination) (domain.CursorPage[domain.Document], error) {
	return domain.CursorPage[domain.Document]{}, nil
}

func (s *stubDocumentRepo) ListByRule(context.Context, string) ([]domain.Document, error) {
	return nil, nil
}

type stubDepartmentRepo struct {
	findFn func(context.Context, string) (domain.Department, error)
}

func (s *stubDepartmentRepo) Insert(context.Context, domain.Department) error { return nil }

func (s *stubDepartmentRepo) Rename(context.Context, string, string, time.Time) (domain.Department, error) {
	return domain.Department{}, errors.New("not implemented")
}

func (s *stubDepartmentRepo) FindByID(ctx context.Context, departmentID string) (domain.Department, error) {
	if s.findFn != nil {
		return s.findFn(ctx, departmentID)
	}
	return domain.Department{ID: departmentID, Name: "Flight Operations"}, nil
}

func (s *stubDepartmentRepo) FindByNameKey(context.Context, string) (domain.Department, error) {
	return domain.Department{}, errors.New("not implemented")
}

func (s *stubDepartmentRepo) List(context.Context, domain.Pagination) (domain.CursorPage[domain.Department], error) {
	return domain.CursorPage[domain.Department]{}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (c *captureNotifier) NotifyTransition(_ context.Context, event TransitionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureNotifier) all() []TransitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TransitionEvent(nil), c.events...)
}

var (
	actorDirector = domain.Actor{ID: "usr_director", Roles: []domain.Role{domain.RoleTrainingDirector}}
	actorHoD      = domain.Actor{ID: "usr_hod", DepartmentID: "dept_flight", Roles: []domain.Role{domain.RoleHeadOfDepartment}}
	actorReviewer = domain.Actor{ID: "usr_reviewer", Roles: []domain.Role{domain.RoleReviewer}}
	actorAdmin    = domain.Actor{ID: "usr_admin", Roles: []domain.Role{domain.RoleAdmin}}
	actorStaff    = domain.Actor{ID: "usr_staff", Roles: []domain.Role{domain.RoleAcademicStaff}}
)

func newTestMatrix() domain.Matrix {
	return domain.Matrix{
		ID:           "mtx_1",
		DepartmentID: "dept_flight",
		Rows:         []string{"pos_captain", "pos_dispatcher"},
		Columns:      []string{"doc_toeic", "doc_medical"},
		Cells:        map[domain.CellKey]domain.Cell{},
		Version:      1,
	}
}

type matrixFixture struct {
	service  MatrixService
	repo     *memMatrixRepo
	notifier *captureNotifier
	now      time.Time
}

func newMatrixFixture(t *testing.T, matrix domain.Matrix) *matrixFixture {
	t.Helper()
	repo := &memMatrixRepo{matrix: matrix, stored: true}
	notifier := &captureNotifier{}
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewMatrixService(MatrixServiceDeps{
		Matrices:    repo,
		Positions:   &stubPositionRepo{},
		Documents:   &stubDocumentRepo{},
		Departments: &stubDepartmentRepo{},
		Notifier:    notifier,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TESTULID" },
	})
	if err != nil {
		t.Fatalf("NewMatrixService: %v", err)
	}
	return &matrixFixture{service: svc, repo: repo, notifier: notifier, now: now}
}

func seedCell(m *domain.Matrix, key domain.CellKey, status domain.CellStatus, version int64) {
	cell := domain.NewCell(key.PositionID, key.DocumentID)
	cell.Status = status
	cell.Version = version
	m.Cells[key] = cell
}

func TestMatrixServiceTransitionTable(t *testing.T) {
	key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}

	tests := []struct {
		name    string
		from    domain.CellStatus
		action  CellAction
		actor   domain.Actor
		reason  string
		want    domain.CellStatus
		wantErr error
	}{
		{name: "hod drafts fresh cell", from: domain.CellStatusInProgress, action: ActionDraft, actor: actorHoD, want: domain.CellStatusDrafted},
		{name: "hod redrafts drafted cell", from: domain.CellStatusDrafted, action: ActionDraft, actor: actorHoD, want: domain.CellStatusDrafted},
		{name: "director submits draft", from: domain.CellStatusDrafted, action: ActionSubmit, actor: actorDirector, want: domain.CellStatusPending},
		{name: "reviewer approves pending", from: domain.CellStatusPending, action: ActionApprove, actor: actorReviewer, want: domain.CellStatusApproved},
		{name: "director approves pending", from: domain.CellStatusPending, action: ActionApprove, actor: actorDirector, want: domain.CellStatusApproved},
		{name: "reviewer rejects pending", from: domain.CellStatusPending, action: ActionReject, actor: actorReviewer, reason: "expired certificate", want: domain.CellStatusRejected},
		{name: "hod revises rejection", from: domain.CellStatusRejected, action: ActionRevise, actor: actorHoD, want: domain.CellStatusDrafted},
		{name: "admin passes every gate", from: domain.CellStatusDrafted, action: ActionSubmit, actor: actorAdmin, want: domain.CellStatusPending},

		{name: "submit skips in_progress", from: domain.CellStatusInProgress, action: ActionSubmit, actor: actorDirector, wantErr: ErrMatrixInvalidTransition},
		{name: "approve needs pending", from: domain.CellStatusDrafted, action: ActionApprove, actor: actorReviewer, wantErr: ErrMatrixInvalidTransition},
		{name: "approved is final", from: domain.CellStatusApproved, action: ActionRevise, actor: actorHoD, wantErr: ErrMatrixInvalidTransition},
		{name: "approved resists resubmit", from: domain.CellStatusApproved, action: ActionSubmit, actor: actorDirector, wantErr: ErrMatrixInvalidTransition},

		{name: "hod cannot submit", from: domain.CellStatusDrafted, action: ActionSubmit, actor: actorHoD, wantErr: ErrMatrixUnauthorized},
		{name: "hod cannot approve", from: domain.CellStatusPending, action: ActionApprove, actor: actorHoD, wantErr: ErrMatrixUnauthorized},
		{name: "staff cannot draft", from: domain.CellStatusInProgress, action: ActionDraft, actor: actorStaff, wantErr: ErrMatrixUnauthorized},
		{name: "reviewer cannot revise", from: domain.CellStatusRejected, action: ActionRevise, actor: actorReviewer, wantErr: ErrMatrixUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			matrix := newTestMatrix()
			seedCell(&matrix, key, tc.from, 3)
			fx := newMatrixFixture(t, matrix)

			cell, err := fx.service.Transition(context.Background(), TransitionCommand{
				Actor:    tc.actor,
				MatrixID: "mtx_1",
				Key:      key,
				Action:   tc.action,
				Reason:   tc.reason,
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Transition err = %v, want %v", err, tc.wantErr)
				}
				stored, _ := fx.repo.snapshot().CellAt(key)
				if stored.Status != tc.from {
					t.Fatalf("failed transition mutated cell: %s", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition: %v", err)
			}
			if cell.Status != tc.want {
				t.Fatalf("status = %s, want %s", cell.Status, tc.want)
			}
			if cell.Version != 4 {
				t.Fatalf("version = %d, want 4", cell.Version)
			}
			if cell.UpdatedBy != tc.actor.ID {
				t.Fatalf("updated by = %s, want %s", cell.UpdatedBy, tc.actor.ID)
			}
		})
	}
}

func TestMatrixServiceTransitionRejectReason(t *testing.T) {
	key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}

	t.Run("reject without reason fails before state checks", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix)

		_, err := fx.service.Transition(context.Background(), TransitionCommand{
			Actor:    actorReviewer,
			MatrixID: "mtx_1",
			Key:      key,
			Action:   ActionReject,
		})
		if !errors.Is(err, ErrMatrixMissingReason) {
			t.Fatalf("err = %v, want ErrMatrixMissingReason", err)
		}
		stored, _ := fx.repo.snapshot().CellAt(key)
		if stored.Status != domain.CellStatusDrafted {
			t.Fatalf("cell moved to %s on failed reject", stored.Status)
		}
	})

	t.Run("reason is recorded and cleared on revise", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusPending, 1)
		fx := newMatrixFixture(t, matrix)

		rejected, err := fx.service.Transition(context.Background(), TransitionCommand{
			Actor:    actorReviewer,
			MatrixID: "mtx_1",
			Key:      key,
			Action:   ActionReject,
			Reason:   "medical certificate expired in January",
		})
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if rejected.RejectReason != "medical certificate expired in January" {
			t.Fatalf("reason = %q", rejected.RejectReason)
		}

		revised, err := fx.service.Transition(context.Background(), TransitionCommand{
			Actor:    actorHoD,
			MatrixID: "mtx_1",
			Key:      key,
			Action:   ActionRevise,
		})
		if err != nil {
			t.Fatalf("revise: %v", err)
		}
		if revised.RejectReason != "" {
			t.Fatalf("revise kept reason %q", revised.RejectReason)
		}
		if revised.Status != domain.CellStatusDrafted {
			t.Fatalf("revise status = %s", revised.Status)
		}
	})
}

func TestMatrixServiceTransitionStaleVersion(t *testing.T) {
	key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}
	matrix := newTestMatrix()
	seedCell(&matrix, key, domain.CellStatusPending, 5)
	fx := newMatrixFixture(t, matrix)

	// Both reviewers read version 5. The first decision commits.
	observed := int64(5)
	approved, err := fx.service.Transition(context.Background(), TransitionCommand{
		Actor:           actorReviewer,
		MatrixID:        "mtx_1",
		Key:             key,
		Action:          ActionApprove,
		ExpectedVersion: &observed,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.CellStatusApproved {
		t.Fatalf("status = %s", approved.Status)
	}

	// The second decision carries the stale version and must lose.
	_, err = fx.service.Transition(context.Background(), TransitionCommand{
		Actor:           actorDirector,
		MatrixID:        "mtx_1",
		Key:             key,
		Action:          ActionReject,
		Reason:          "illegible scan",
		ExpectedVersion: &observed,
	})
	if !errors.Is(err, ErrMatrixStaleCell) {
		t.Fatalf("err = %v, want ErrMatrixStaleCell", err)
	}
	stored, _ := fx.repo.snapshot().CellAt(key)
	if stored.Status != domain.CellStatusApproved {
		t.Fatalf("committed decision overturned: %s", stored.Status)
	}
}

func TestMatrixServiceTransitionEvents(t *testing.T) {
	key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}
	matrix := newTestMatrix()
	seedCell(&matrix, key, domain.CellStatusDrafted, 1)
	fx := newMatrixFixture(t, matrix)

	if _, err := fx.service.Transition(context.Background(), TransitionCommand{
		Actor:    actorDirector,
		MatrixID: "mtx_1",
		Key:      key,
		Action:   ActionSubmit,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := fx.service.Transition(context.Background(), TransitionCommand{
		Actor:    actorHoD,
		MatrixID: "mtx_1",
		Key:      key,
		Action:   ActionApprove,
	})
	if !errors.Is(err, ErrMatrixUnauthorized) {
		t.Fatalf("err = %v, want ErrMatrixUnauthorized", err)
	}

	events := fx.notifier.all()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if !events[0].Succeeded || events[0].PreviousStatus != string(domain.CellStatusDrafted) || events[0].CurrentStatus != string(domain.CellStatusPending) {
		t.Fatalf("unexpected success event: %+v", events[0])
	}
	if events[1].Succeeded || events[1].FailureCode != "unauthorized" {
		t.Fatalf("unexpected failure event: %+v", events[1])
	}
}

func TestMatrixServiceUpdateCellValues(t *testing.T) {
	key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}

	t.Run("updates editable cell", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusDrafted, 2)
		fx := newMatrixFixture(t, matrix)

		ref := "matrices/mtx_1/pos_captain/doc_toeic/scan.pdf"
		cell, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:       actorHoD,
			MatrixID:    "mtx_1",
			Key:         key,
			RuleValues:  []domain.RuleValue{{RuleID: "rule_toeic", Value: "700"}},
			EvidenceRef: &ref,
		})
		if err != nil {
			t.Fatalf("UpdateCellValues: %v", err)
		}
		if len(cell.RuleValues) != 1 || cell.RuleValues[0].Value != "700" {
			t.Fatalf("rule values = %+v", cell.RuleValues)
		}
		if cell.EvidenceRef != ref {
			t.Fatalf("evidence ref = %q", cell.EvidenceRef)
		}
		if cell.Version != 3 {
			t.Fatalf("version = %d, want 3", cell.Version)
		}
		if cell.Status != domain.CellStatusDrafted {
			t.Fatalf("editing changed status to %s", cell.Status)
		}
	})

	t.Run("empty evidence ref clears, nil leaves unchanged", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusDrafted, 1)
		cell := matrix.Cells[key]
		cell.EvidenceRef = "matrices/mtx_1/pos_captain/doc_toeic/wrong.pdf"
		matrix.Cells[key] = cell
		fx := newMatrixFixture(t, matrix)

		updated, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:    actorHoD,
			MatrixID: "mtx_1",
			Key:      key,
		})
		if err != nil {
			t.Fatalf("UpdateCellValues: %v", err)
		}
		if updated.EvidenceRef != "matrices/mtx_1/pos_captain/doc_toeic/wrong.pdf" {
			t.Fatalf("nil ref changed evidence to %q", updated.EvidenceRef)
		}

		empty := ""
		updated, err = fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:       actorHoD,
			MatrixID:    "mtx_1",
			Key:         key,
			EvidenceRef: &empty,
		})
		if err != nil {
			t.Fatalf("UpdateCellValues: %v", err)
		}
		if updated.EvidenceRef != "" {
			t.Fatalf("evidence ref not cleared: %q", updated.EvidenceRef)
		}
	})

	t.Run("implicit cell is editable", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		cell, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:      actorHoD,
			MatrixID:   "mtx_1",
			Key:        key,
			RuleValues: []domain.RuleValue{{RuleID: "rule_toeic", Value: "650"}},
		})
		if err != nil {
			t.Fatalf("UpdateCellValues: %v", err)
		}
		if cell.Status != domain.CellStatusInProgress {
			t.Fatalf("status = %s", cell.Status)
		}
		if cell.Version != 1 {
			t.Fatalf("version = %d, want 1", cell.Version)
		}
	})

	t.Run("pending cell is locked", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusPending, 2)
		fx := newMatrixFixture(t, matrix)

		_, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:      actorHoD,
			MatrixID:   "mtx_1",
			Key:        key,
			RuleValues: []domain.RuleValue{{RuleID: "rule_toeic", Value: "700"}},
		})
		if !errors.Is(err, ErrMatrixCellLocked) {
			t.Fatalf("err = %v, want ErrMatrixCellLocked", err)
		}
	})

	t.Run("unattached rule is rejected", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:      actorHoD,
			MatrixID:   "mtx_1",
			Key:        key,
			RuleValues: []domain.RuleValue{{RuleID: "rule_unknown", Value: "x"}},
		})
		if !errors.Is(err, ErrMatrixRuleNotAttached) {
			t.Fatalf("err = %v, want ErrMatrixRuleNotAttached", err)
		}
	})

	t.Run("other department head is refused", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix)

		outsider := domain.Actor{ID: "usr_other", DepartmentID: "dept_maintenance", Roles: []domain.Role{domain.RoleHeadOfDepartment}}
		_, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:      outsider,
			MatrixID:   "mtx_1",
			Key:        key,
			RuleValues: []domain.RuleValue{{RuleID: "rule_toeic", Value: "700"}},
		})
		if !errors.Is(err, ErrMatrixUnauthorized) {
			t.Fatalf("err = %v, want ErrMatrixUnauthorized", err)
		}
	})

	t.Run("closed deadline window blocks edits", func(t *testing.T) {
		matrix := newTestMatrix()
		start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
		matrix.Deadline = domain.TimeWindow{Start: &start, End: &end}
		seedCell(&matrix, key, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix) // clock is fixed to March 2026

		_, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:      actorHoD,
			MatrixID:   "mtx_1",
			Key:        key,
			RuleValues: []domain.RuleValue{{RuleID: "rule_toeic", Value: "700"}},
		})
		if !errors.Is(err, ErrMatrixWindowClosed) {
			t.Fatalf("err = %v, want ErrMatrixWindowClosed", err)
		}
	})

	t.Run("stale version is refused", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, key, domain.CellStatusDrafted, 4)
		fx := newMatrixFixture(t, matrix)

		stale := int64(3)
		_, err := fx.service.UpdateCellValues(context.Background(), UpdateCellCommand{
			Actor:           actorHoD,
			MatrixID:        "mtx_1",
			Key:             key,
			RuleValues:      []domain.RuleValue{{RuleID: "rule_toeic", Value: "700"}},
			ExpectedVersion: &stale,
		})
		if !errors.Is(err, ErrMatrixStaleCell) {
			t.Fatalf("err = %v, want ErrMatrixStaleCell", err)
		}
	})
}

func TestMatrixServiceStructure(t *testing.T) {
	t.Run("add rows skips duplicates", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		updated, err := fx.service.AddRows(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"pos_captain", "pos_instructor"},
		})
		if err != nil {
			t.Fatalf("AddRows: %v", err)
		}
		if len(updated.Rows) != 3 {
			t.Fatalf("rows = %v", updated.Rows)
		}
	})

	t.Run("row position must belong to the department", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		repo := &stubPositionRepo{findFn: func(_ context.Context, id string) (domain.Position, error) {
			return domain.Position{ID: id, DepartmentID: "dept_maintenance"}, nil
		}}
		svc, err := NewMatrixService(MatrixServiceDeps{
			Matrices:    fx.repo,
			Positions:   repo,
			Documents:   &stubDocumentRepo{},
			Departments: &stubDepartmentRepo{},
		})
		if err != nil {
			t.Fatalf("NewMatrixService: %v", err)
		}
		_, err = svc.AddRows(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"pos_mechanic"},
		})
		if !errors.Is(err, ErrMatrixInvalidInput) {
			t.Fatalf("err = %v, want ErrMatrixInvalidInput", err)
		}
	})

	t.Run("remove row drops its cells", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusApproved, 2)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_toeic"}, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix)

		updated, err := fx.service.RemoveRow(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"pos_captain"},
		})
		if err != nil {
			t.Fatalf("RemoveRow: %v", err)
		}
		if updated.HasRow("pos_captain") {
			t.Fatal("row still present")
		}
		if _, ok := updated.Cells[domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}]; ok {
			t.Fatal("cell for removed row still present")
		}
		if _, ok := updated.Cells[domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_toeic"}]; !ok {
			t.Fatal("unrelated cell dropped")
		}
	})

	t.Run("re-added column starts with fresh cells", func(t *testing.T) {
		matrix := newTestMatrix()
		key := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_medical"}
		seedCell(&matrix, key, domain.CellStatusApproved, 4)
		fx := newMatrixFixture(t, matrix)

		if _, err := fx.service.RemoveColumn(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"doc_medical"},
		}); err != nil {
			t.Fatalf("RemoveColumn: %v", err)
		}
		if _, err := fx.service.AddColumns(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"doc_medical"},
		}); err != nil {
			t.Fatalf("AddColumns: %v", err)
		}

		cell, err := fx.service.GetCell(context.Background(), "mtx_1", key)
		if err != nil {
			t.Fatalf("GetCell: %v", err)
		}
		if cell.Status != domain.CellStatusInProgress {
			t.Fatalf("status = %s, want %s", cell.Status, domain.CellStatusInProgress)
		}
		if cell.Version != 0 {
			t.Fatalf("version = %d, want 0", cell.Version)
		}
	})

	t.Run("remove missing column fails", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.RemoveColumn(context.Background(), StructuralCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			IDs:      []string{"doc_unknown"},
		})
		if !errors.Is(err, ErrMatrixColumnNotFound) {
			t.Fatalf("err = %v, want ErrMatrixColumnNotFound", err)
		}
	})

	t.Run("structural ops need the training director role", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.AddColumns(context.Background(), StructuralCommand{
			Actor:    actorHoD,
			MatrixID: "mtx_1",
			IDs:      []string{"doc_licence"},
		})
		if !errors.Is(err, ErrMatrixUnauthorized) {
			t.Fatalf("err = %v, want ErrMatrixUnauthorized", err)
		}
	})

	t.Run("clear empties the grid but keeps windows", func(t *testing.T) {
		matrix := newTestMatrix()
		start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
		matrix.Deadline = domain.TimeWindow{Start: &start, End: &end}
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix)

		updated, err := fx.service.Clear(context.Background(), ClearMatrixCommand{Actor: actorDirector, MatrixID: "mtx_1"})
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if len(updated.Rows) != 0 || len(updated.Columns) != 0 || len(updated.Cells) != 0 {
			t.Fatalf("grid not empty: %+v", updated)
		}
		if !updated.Deadline.Populated() {
			t.Fatal("clear dropped the deadline window")
		}
	})
}

func TestMatrixServiceSubmitForReview(t *testing.T) {
	t.Run("submits every drafted cell", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusDrafted, 1)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_medical"}, domain.CellStatusDrafted, 2)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_toeic"}, domain.CellStatusApproved, 3)
		fx := newMatrixFixture(t, matrix)

		updated, err := fx.service.SubmitForReview(context.Background(), BulkSubmitCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
		})
		if err != nil {
			t.Fatalf("SubmitForReview: %v", err)
		}
		pending := 0
		for _, cell := range updated.Cells {
			if cell.Status == domain.CellStatusPending {
				pending++
			}
		}
		if pending != 2 {
			t.Fatalf("pending cells = %d, want 2", pending)
		}
		approved := updated.Cells[domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_toeic"}]
		if approved.Status != domain.CellStatusApproved {
			t.Fatalf("approved cell disturbed: %s", approved.Status)
		}
	})

	t.Run("one offender aborts the whole batch", func(t *testing.T) {
		matrix := newTestMatrix()
		drafted := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}
		fresh := domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_medical"}
		seedCell(&matrix, drafted, domain.CellStatusDrafted, 1)
		fx := newMatrixFixture(t, matrix)

		_, err := fx.service.SubmitForReview(context.Background(), BulkSubmitCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			Keys:     []domain.CellKey{drafted, fresh},
		})
		var precondition *BulkPreconditionError
		if !errors.As(err, &precondition) {
			t.Fatalf("err = %v, want BulkPreconditionError", err)
		}
		if len(precondition.OffendingKeys) != 1 || precondition.OffendingKeys[0] != fresh {
			t.Fatalf("offending keys = %+v", precondition.OffendingKeys)
		}
		stored, _ := fx.repo.snapshot().CellAt(drafted)
		if stored.Status != domain.CellStatusDrafted {
			t.Fatalf("drafted cell mutated to %s on aborted batch", stored.Status)
		}
	})

	t.Run("empty selector with nothing drafted is a no-op", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusApproved, 1)
		fx := newMatrixFixture(t, matrix)

		updated, err := fx.service.SubmitForReview(context.Background(), BulkSubmitCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
		})
		if err != nil {
			t.Fatalf("SubmitForReview: %v", err)
		}
		for key, cell := range updated.Cells {
			if cell.Status == domain.CellStatusPending {
				t.Fatalf("cell %v became pending", key)
			}
		}
	})

	t.Run("requires the training director role", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.SubmitForReview(context.Background(), BulkSubmitCommand{
			Actor:    actorHoD,
			MatrixID: "mtx_1",
		})
		if !errors.Is(err, ErrMatrixUnauthorized) {
			t.Fatalf("err = %v, want ErrMatrixUnauthorized", err)
		}
	})
}

func TestMatrixServiceWindows(t *testing.T) {
	deadlineStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	deadlineEnd := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	activeStart := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	activeEnd := time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deadline then active precedence", func(t *testing.T) {
		matrix := newTestMatrix()
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusApproved, 1)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_medical"}, domain.CellStatusApproved, 1)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_toeic"}, domain.CellStatusRejected, 1)
		seedCell(&matrix, domain.CellKey{PositionID: "pos_dispatcher", DocumentID: "doc_medical"}, domain.CellStatusApproved, 1)
		fx := newMatrixFixture(t, matrix)

		if _, err := fx.service.SetDeadlineWindow(context.Background(), SetWindowCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			Start:    deadlineStart,
			End:      deadlineEnd,
		}); err != nil {
			t.Fatalf("SetDeadlineWindow: %v", err)
		}

		kind, window, err := fx.service.EffectiveWindow(context.Background(), "mtx_1")
		if err != nil {
			t.Fatalf("EffectiveWindow: %v", err)
		}
		if kind != domain.WindowDeadline {
			t.Fatalf("kind = %s, want deadline", kind)
		}
		if !window.Start.Equal(deadlineStart) || !window.End.Equal(deadlineEnd) {
			t.Fatalf("window = %+v", window)
		}

		// Every cell is settled, rejected counts as a recorded decision.
		if _, err := fx.service.SetActiveWindow(context.Background(), SetWindowCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			Start:    activeStart,
			End:      activeEnd,
		}); err != nil {
			t.Fatalf("SetActiveWindow: %v", err)
		}

		kind, _, err = fx.service.EffectiveWindow(context.Background(), "mtx_1")
		if err != nil {
			t.Fatalf("EffectiveWindow: %v", err)
		}
		if kind != domain.WindowActive {
			t.Fatalf("kind = %s, want active", kind)
		}
	})

	t.Run("active refuses while deadline cells unsettled", func(t *testing.T) {
		matrix := newTestMatrix()
		matrix.Deadline = domain.TimeWindow{Start: &deadlineStart, End: &deadlineEnd}
		seedCell(&matrix, domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"}, domain.CellStatusPending, 1)
		fx := newMatrixFixture(t, matrix)

		_, err := fx.service.SetActiveWindow(context.Background(), SetWindowCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			Start:    activeStart,
			End:      activeEnd,
		})
		if !errors.Is(err, ErrMatrixDeadlinePending) {
			t.Fatalf("err = %v, want ErrMatrixDeadlinePending", err)
		}
		if fx.repo.snapshot().Active.Populated() {
			t.Fatal("refused flip still set the active window")
		}
	})

	t.Run("inverted range is refused", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.SetDeadlineWindow(context.Background(), SetWindowCommand{
			Actor:    actorDirector,
			MatrixID: "mtx_1",
			Start:    deadlineEnd,
			End:      deadlineStart,
		})
		if !errors.Is(err, ErrMatrixInvalidWindowRange) {
			t.Fatalf("err = %v, want ErrMatrixInvalidWindowRange", err)
		}
	})

	t.Run("windows need the training director role", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.SetDeadlineWindow(context.Background(), SetWindowCommand{
			Actor:    actorHoD,
			MatrixID: "mtx_1",
			Start:    deadlineStart,
			End:      deadlineEnd,
		})
		if !errors.Is(err, ErrMatrixUnauthorized) {
			t.Fatalf("err = %v, want ErrMatrixUnauthorized", err)
		}
	})
}

func TestMatrixServiceCreateMatrix(t *testing.T) {
	t.Run("one matrix per department", func(t *testing.T) {
		fx := newMatrixFixture(t, newTestMatrix())
		_, err := fx.service.CreateMatrix(context.Background(), CreateMatrixCommand{
			Actor:        actorDirector,
			DepartmentID: "dept_flight",
		})
		if !errors.Is(err, ErrMatrixExists) {
			t.Fatalf("err = %v, want ErrMatrixExists", err)
		}
	})

	t.Run("unknown department is refused", func(t *testing.T) {
		repo := &memMatrixRepo{}
		deps := &stubDepartmentRepo{findFn: func(context.Context, string) (domain.Department, error) {
			return domain.Department{}, &matrixRepoErr{msg: "no department", notFound: true}
		}}
		svc, err := NewMatrixService(MatrixServiceDeps{
			Matrices:    repo,
			Positions:   &stubPositionRepo{},
			Documents:   &stubDocumentRepo{},
			Departments: deps,
		})
		if err != nil {
			t.Fatalf("NewMatrixService: %v", err)
		}
		_, err = svc.CreateMatrix(context.Background(), CreateMatrixCommand{
			Actor:        actorDirector,
			DepartmentID: "dept_ghost",
		})
		if !errors.Is(err, ErrOrgDepartmentNotFound) {
			t.Fatalf("err = %v, want ErrOrgDepartmentNotFound", err)
		}
	})

	t.Run("creates an empty matrix", func(t *testing.T) {
		repo := &memMatrixRepo{}
		svc, err := NewMatrixService(MatrixServiceDeps{
			Matrices:    repo,
			Positions:   &stubPositionRepo{},
			Documents:   &stubDocumentRepo{},
			Departments: &stubDepartmentRepo{},
			IDGenerator: func() string { return "01CREATED" },
		})
		if err != nil {
			t.Fatalf("NewMatrixService: %v", err)
		}
		matrix, err := svc.CreateMatrix(context.Background(), CreateMatrixCommand{
			Actor:        actorDirector,
			DepartmentID: "dept_flight",
		})
		if err != nil {
			t.Fatalf("CreateMatrix: %v", err)
		}
		if matrix.ID != "mtx_01CREATED" {
			t.Fatalf("id = %s", matrix.ID)
		}
		if len(matrix.Rows) != 0 || len(matrix.Columns) != 0 {
			t.Fatalf("new matrix not empty: %+v", matrix)
		}
	})
}

func TestMatrixServiceTimeout(t *testing.T) {
	attempts := 0
	repo := &memMatrixRepo{findFn: func(context.Context, string) (domain.Matrix, error) {
		attempts++
		return domain.Matrix{}, context.DeadlineExceeded
	}}
	svc, err := NewMatrixService(MatrixServiceDeps{
		Matrices:        repo,
		Positions:       &stubPositionRepo{},
		Documents:       &stubDocumentRepo{},
		Departments:     &stubDepartmentRepo{},
		OpTimeout:       10 * time.Millisecond,
		TimeoutAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewMatrixService: %v", err)
	}

	_, err = svc.GetMatrix(context.Background(), "mtx_1")
	if !errors.Is(err, ErrMatrixTimeout) {
		t.Fatalf("err = %v, want ErrMatrixTimeout", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestMatrixServiceGetCell(t *testing.T) {
	fx := newMatrixFixture(t, newTestMatrix())

	cell, err := fx.service.GetCell(context.Background(), "mtx_1", domain.CellKey{PositionID: "pos_captain", DocumentID: "doc_toeic"})
	if err != nil {
		t.Fatalf("GetCell: %v", err)
	}
	if cell.Status != domain.CellStatusInProgress {
		t.Fatalf("implicit cell status = %s", cell.Status)
	}

	_, err = fx.service.GetCell(context.Background(), "mtx_1", domain.CellKey{PositionID: "pos_ghost", DocumentID: "doc_toeic"})
	if !errors.Is(err, ErrMatrixCellNotFound) {
		t.Fatalf("err = %v, want ErrMatrixCellNotFound", err)
	}
}
