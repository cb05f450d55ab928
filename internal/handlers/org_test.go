package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/platform/auth"
	"github.com/flightline-academy/api/internal/services"
)

type stubOrgService struct {
	createDeptCmd     services.CreateDepartmentCommand
	renameDeptCmd     services.RenameDepartmentCommand
	createPositionCmd services.CreatePositionCommand
	deletePositionCmd services.DeletePositionCommand
	listDeptID        string
	deptResp          services.Department
	positionResp      services.Position
	deptPageResp      domain.CursorPage[services.Department]
	positionPageResp  domain.CursorPage[services.Position]
	err               error
}

func (s *stubOrgService) CreateDepartment(_ context.Context, cmd services.CreateDepartmentCommand) (services.Department, error) {
	s.createDeptCmd = cmd
	return s.deptResp, s.err
}

func (s *stubOrgService) RenameDepartment(_ context.Context, cmd services.RenameDepartmentCommand) (services.Department, error) {
	s.renameDeptCmd = cmd
	return s.deptResp, s.err
}

func (s *stubOrgService) GetDepartment(context.Context, string) (services.Department, error) {
	return s.deptResp, s.err
}

func (s *stubOrgService) ListDepartments(context.Context, services.Pagination) (domain.CursorPage[services.Department], error) {
	return s.deptPageResp, s.err
}

func (s *stubOrgService) CreatePosition(_ context.Context, cmd services.CreatePositionCommand) (services.Position, error) {
	s.createPositionCmd = cmd
	return s.positionResp, s.err
}

func (s *stubOrgService) UpdatePosition(context.Context, services.UpdatePositionCommand) (services.Position, error) {
	return s.positionResp, s.err
}

func (s *stubOrgService) DeletePosition(_ context.Context, cmd services.DeletePositionCommand) error {
	s.deletePositionCmd = cmd
	return s.err
}

func (s *stubOrgService) GetPosition(context.Context, string) (services.Position, error) {
	return s.positionResp, s.err
}

func (s *stubOrgService) ListPositions(_ context.Context, departmentID string, _ services.Pagination) (domain.CursorPage[services.Position], error) {
	s.listDeptID = departmentID
	return s.positionPageResp, s.err
}

var _ services.OrgService = (*stubOrgService)(nil)

func orgTestRequest(method, target string, body any) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	identity := &auth.Identity{
		UID:          "td_1",
		Roles:        []string{auth.RoleTrainingDirector},
		DepartmentID: "dept_flight",
	}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestOrgHandlersCreateDepartment(t *testing.T) {
	now := time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC)
	svc := &stubOrgService{deptResp: services.Department{
		ID:        "dept_flight",
		Name:      "Flight Operations",
		CreatedAt: now,
		UpdatedAt: now,
	}}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodPost, "/departments/", map[string]any{"name": "Flight Operations"})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.createDeptCmd.Name != "Flight Operations" {
		t.Fatalf("unexpected command %+v", svc.createDeptCmd)
	}
	var decoded departmentPayload
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.ID != "dept_flight" {
		t.Fatalf("expected dept_flight, got %s", decoded.ID)
	}
}

func TestOrgHandlersRenameDepartmentUsesPathID(t *testing.T) {
	svc := &stubOrgService{deptResp: services.Department{ID: "dept_flight", Name: "Flight Ops"}}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodPut, "/departments/dept_flight", map[string]any{"name": "Flight Ops"})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.renameDeptCmd.DepartmentID != "dept_flight" || svc.renameDeptCmd.Name != "Flight Ops" {
		t.Fatalf("unexpected command %+v", svc.renameDeptCmd)
	}
}

func TestOrgHandlersRenameDepartmentDuplicate(t *testing.T) {
	svc := &stubOrgService{err: services.ErrOrgDuplicateName}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodPut, "/departments/dept_flight", map[string]any{"name": "Maintenance"})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "duplicate_name" {
		t.Fatalf("expected duplicate_name, got %v", body["error"])
	}
}

func TestOrgHandlersCreatePositionScopedToDepartment(t *testing.T) {
	svc := &stubOrgService{positionResp: services.Position{
		ID:           "pos_captain",
		DepartmentID: "dept_flight",
		Name:         "Captain",
	}}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodPost, "/departments/dept_flight/positions", map[string]any{"name": "Captain"})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.createPositionCmd.DepartmentID != "dept_flight" || svc.createPositionCmd.Name != "Captain" {
		t.Fatalf("unexpected command %+v", svc.createPositionCmd)
	}
}

func TestOrgHandlersDeletePositionInUse(t *testing.T) {
	svc := &stubOrgService{err: services.ErrOrgPositionInUse}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodDelete, "/positions/pos_captain", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if svc.deletePositionCmd.PositionID != "pos_captain" {
		t.Fatalf("unexpected command %+v", svc.deletePositionCmd)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "position_in_use" {
		t.Fatalf("expected position_in_use, got %v", body["error"])
	}
}

func TestOrgHandlersListPositions(t *testing.T) {
	svc := &stubOrgService{positionPageResp: domain.CursorPage[services.Position]{
		Items: []services.Position{
			{ID: "pos_captain", DepartmentID: "dept_flight", Name: "Captain"},
			{ID: "pos_fo", DepartmentID: "dept_flight", Name: "First Officer"},
		},
	}}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodGet, "/departments/dept_flight/positions", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.listDeptID != "dept_flight" {
		t.Fatalf("expected department scope, got %s", svc.listDeptID)
	}
	var decoded positionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(decoded.Items) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(decoded.Items))
	}
}

func TestOrgHandlersGetDepartmentNotFound(t *testing.T) {
	svc := &stubOrgService{err: services.ErrOrgDepartmentNotFound}
	handler := NewOrgHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := orgTestRequest(http.MethodGet, "/departments/dept_missing", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
