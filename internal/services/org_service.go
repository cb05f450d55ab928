package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/platform/textutil"
	"github.com/flightline-academy/api/internal/repositories"
)

const (
	departmentIDPrefix = "dept_"
	positionIDPrefix   = "pos_"
)

// OrgServiceDeps bundles constructor inputs for the organisation service.
type OrgServiceDeps struct {
	Departments repositories.DepartmentRepository
	Positions   repositories.PositionRepository
	Matrices    repositories.MatrixRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type orgService struct {
	departments repositories.DepartmentRepository
	positions   repositories.PositionRepository
	matrices    repositories.MatrixRepository
	audit       AuditLogService
	clock       func() time.Time
	newID       func() string
}

var _ OrgService = (*orgService)(nil)

// NewOrgService constructs the organisation service with the supplied dependencies.
func NewOrgService(deps OrgServiceDeps) (OrgService, error) {
	if deps.Departments == nil {
		return nil, errors.New("org service: department repository is required")
	}
	if deps.Positions == nil {
		return nil, errors.New("org service: position repository is required")
	}
	if deps.Matrices == nil {
		return nil, errors.New("org service: matrix repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &orgService{
		departments: deps.Departments,
		positions:   deps.Positions,
		matrices:    deps.Matrices,
		audit:       deps.Audit,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
	}, nil
}

func (s *orgService) CreateDepartment(ctx context.Context, cmd CreateDepartmentCommand) (Department, error) {
	name, err := normalizeOrgName(cmd.Name)
	if err != nil {
		return Department{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Department{}, ErrMatrixUnauthorized
	}
	if err := s.ensureDepartmentNameFree(ctx, name, ""); err != nil {
		return Department{}, err
	}

	now := s.clock()
	dep := domain.Department{
		ID:        departmentIDPrefix + s.newID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.departments.Insert(ctx, dep); err != nil {
		if isRepoConflict(err) {
			return Department{}, ErrOrgDuplicateName
		}
		return Department{}, err
	}

	s.record(ctx, cmd.Actor, "org.department.create", "/departments/"+dep.ID, map[string]any{"name": name})
	return dep, nil
}

// RenameDepartment is the only department mutation; structure changes go
// through positions and the matrix.
func (s *orgService) RenameDepartment(ctx context.Context, cmd RenameDepartmentCommand) (Department, error) {
	departmentID := strings.TrimSpace(cmd.DepartmentID)
	if departmentID == "" {
		return Department{}, fmt.Errorf("%w: department id is required", ErrOrgInvalidInput)
	}
	name, err := normalizeOrgName(cmd.Name)
	if err != nil {
		return Department{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Department{}, ErrMatrixUnauthorized
	}
	if err := s.ensureDepartmentNameFree(ctx, name, departmentID); err != nil {
		return Department{}, err
	}

	dep, err := s.departments.Rename(ctx, departmentID, name, s.clock())
	if err != nil {
		if isRepoNotFound(err) {
			return Department{}, ErrOrgDepartmentNotFound
		}
		if isRepoConflict(err) {
			return Department{}, ErrOrgDuplicateName
		}
		return Department{}, err
	}

	s.record(ctx, cmd.Actor, "org.department.rename", "/departments/"+dep.ID, map[string]any{"name": name})
	return dep, nil
}

func (s *orgService) GetDepartment(ctx context.Context, departmentID string) (Department, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return Department{}, fmt.Errorf("%w: department id is required", ErrOrgInvalidInput)
	}
	dep, err := s.departments.FindByID(ctx, departmentID)
	if err != nil {
		if isRepoNotFound(err) {
			return Department{}, ErrOrgDepartmentNotFound
		}
		return Department{}, err
	}
	return dep, nil
}

func (s *orgService) ListDepartments(ctx context.Context, pager Pagination) (domain.CursorPage[Department], error) {
	return s.departments.List(ctx, pager)
}

func (s *orgService) CreatePosition(ctx context.Context, cmd CreatePositionCommand) (Position, error) {
	departmentID := strings.TrimSpace(cmd.DepartmentID)
	if departmentID == "" {
		return Position{}, fmt.Errorf("%w: department id is required", ErrOrgInvalidInput)
	}
	name, err := normalizeOrgName(cmd.Name)
	if err != nil {
		return Position{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Position{}, ErrMatrixUnauthorized
	}

	if _, err := s.departments.FindByID(ctx, departmentID); err != nil {
		if isRepoNotFound(err) {
			return Position{}, ErrOrgDepartmentNotFound
		}
		return Position{}, err
	}
	if err := s.ensurePositionNameFree(ctx, departmentID, name, ""); err != nil {
		return Position{}, err
	}

	now := s.clock()
	pos := domain.Position{
		ID:           positionIDPrefix + s.newID(),
		DepartmentID: departmentID,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.positions.Insert(ctx, pos); err != nil {
		if isRepoConflict(err) {
			return Position{}, ErrOrgDuplicateName
		}
		return Position{}, err
	}

	s.record(ctx, cmd.Actor, "org.position.create", "/positions/"+pos.ID, map[string]any{
		"name":          name,
		"department_id": departmentID,
	})
	return pos, nil
}

func (s *orgService) UpdatePosition(ctx context.Context, cmd UpdatePositionCommand) (Position, error) {
	positionID := strings.TrimSpace(cmd.PositionID)
	if positionID == "" {
		return Position{}, fmt.Errorf("%w: position id is required", ErrOrgInvalidInput)
	}
	name, err := normalizeOrgName(cmd.Name)
	if err != nil {
		return Position{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Position{}, ErrMatrixUnauthorized
	}

	pos, err := s.positions.FindByID(ctx, positionID)
	if err != nil {
		if isRepoNotFound(err) {
			return Position{}, ErrOrgPositionNotFound
		}
		return Position{}, err
	}
	if err := s.ensurePositionNameFree(ctx, pos.DepartmentID, name, pos.ID); err != nil {
		return Position{}, err
	}

	pos.Name = name
	pos.UpdatedAt = s.clock()
	if err := s.positions.Update(ctx, pos); err != nil {
		if isRepoConflict(err) {
			return Position{}, ErrOrgDuplicateName
		}
		return Position{}, err
	}

	s.record(ctx, cmd.Actor, "org.position.update", "/positions/"+pos.ID, map[string]any{"name": name})
	return pos, nil
}

// DeletePosition refuses while the position is still a matrix row; the row
// must be removed first so cell history is dropped deliberately.
func (s *orgService) DeletePosition(ctx context.Context, cmd DeletePositionCommand) error {
	positionID := strings.TrimSpace(cmd.PositionID)
	if positionID == "" {
		return fmt.Errorf("%w: position id is required", ErrOrgInvalidInput)
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return ErrMatrixUnauthorized
	}

	if _, err := s.positions.FindByID(ctx, positionID); err != nil {
		if isRepoNotFound(err) {
			return ErrOrgPositionNotFound
		}
		return err
	}
	inUse, err := s.matrices.RowInUse(ctx, positionID)
	if err != nil {
		return err
	}
	if inUse {
		return ErrOrgPositionInUse
	}
	if err := s.positions.Delete(ctx, positionID); err != nil {
		if isRepoNotFound(err) {
			return ErrOrgPositionNotFound
		}
		return err
	}

	s.record(ctx, cmd.Actor, "org.position.delete", "/positions/"+positionID, nil)
	return nil
}

func (s *orgService) GetPosition(ctx context.Context, positionID string) (Position, error) {
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return Position{}, fmt.Errorf("%w: position id is required", ErrOrgInvalidInput)
	}
	pos, err := s.positions.FindByID(ctx, positionID)
	if err != nil {
		if isRepoNotFound(err) {
			return Position{}, ErrOrgPositionNotFound
		}
		return Position{}, err
	}
	return pos, nil
}

func (s *orgService) ListPositions(ctx context.Context, departmentID string, pager Pagination) (domain.CursorPage[Position], error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return domain.CursorPage[Position]{}, fmt.Errorf("%w: department id is required", ErrOrgInvalidInput)
	}
	return s.positions.ListByDepartment(ctx, departmentID, pager)
}

func (s *orgService) ensureDepartmentNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.departments.FindByNameKey(ctx, textutil.NameKey(name))
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return ErrOrgDuplicateName
	}
	return nil
}

func (s *orgService) ensurePositionNameFree(ctx context.Context, departmentID, name, selfID string) error {
	existing, err := s.positions.FindByNameKey(ctx, departmentID, textutil.NameKey(name))
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return ErrOrgDuplicateName
	}
	return nil
}

func (s *orgService) record(ctx context.Context, actor domain.Actor, action, targetRef string, metadata map[string]any) {
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

func normalizeOrgName(raw string) (string, error) {
	name := strings.TrimSpace(descriptionPolicy.Sanitize(raw))
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrOrgInvalidInput)
	}
	if len(name) > maxCatalogNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrOrgInvalidInput, maxCatalogNameLength)
	}
	return name, nil
}
