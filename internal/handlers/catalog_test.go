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

type stubCatalogService struct {
	createRuleCmd  services.CreateRuleCommand
	updateRuleCmd  services.UpdateRuleCommand
	deleteRuleCmd  services.DeleteRuleCommand
	attachCmd      services.AttachRuleCommand
	detachCmd      services.AttachRuleCommand
	createDocCmd   services.CreateDocumentCommand
	listRulesPager services.Pagination
	ruleResp       services.Rule
	documentResp   services.Document
	rulePageResp   domain.CursorPage[services.Rule]
	docPageResp    domain.CursorPage[services.Document]
	err            error
}

func (s *stubCatalogService) CreateRule(_ context.Context, cmd services.CreateRuleCommand) (services.Rule, error) {
	s.createRuleCmd = cmd
	return s.ruleResp, s.err
}

func (s *stubCatalogService) UpdateRule(_ context.Context, cmd services.UpdateRuleCommand) (services.Rule, error) {
	s.updateRuleCmd = cmd
	return s.ruleResp, s.err
}

func (s *stubCatalogService) DeleteRule(_ context.Context, cmd services.DeleteRuleCommand) error {
	s.deleteRuleCmd = cmd
	return s.err
}

func (s *stubCatalogService) GetRule(context.Context, string) (services.Rule, error) {
	return s.ruleResp, s.err
}

func (s *stubCatalogService) ListRules(_ context.Context, pager services.Pagination) (domain.CursorPage[services.Rule], error) {
	s.listRulesPager = pager
	return s.rulePageResp, s.err
}

func (s *stubCatalogService) CreateDocument(_ context.Context, cmd services.CreateDocumentCommand) (services.Document, error) {
	s.createDocCmd = cmd
	return s.documentResp, s.err
}

func (s *stubCatalogService) UpdateDocument(context.Context, services.UpdateDocumentCommand) (services.Document, error) {
	return s.documentResp, s.err
}

func (s *stubCatalogService) AttachRule(_ context.Context, cmd services.AttachRuleCommand) (services.Document, error) {
	s.attachCmd = cmd
	return s.documentResp, s.err
}

func (s *stubCatalogService) DetachRule(_ context.Context, cmd services.AttachRuleCommand) (services.Document, error) {
	s.detachCmd = cmd
	return s.documentResp, s.err
}

func (s *stubCatalogService) RemoveDocument(context.Context, services.DeleteDocumentCommand) error {
	return s.err
}

func (s *stubCatalogService) GetDocument(context.Context, string) (services.Document, error) {
	return s.documentResp, s.err
}

func (s *stubCatalogService) ListDocuments(_ context.Context, pager services.Pagination) (domain.CursorPage[services.Document], error) {
	return s.docPageResp, s.err
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func catalogTestRequest(method, target string, body any) *http.Request {
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

func TestCatalogHandlersCreateRule(t *testing.T) {
	now := time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC)
	svc := &stubCatalogService{ruleResp: services.Rule{
		ID:          "rule_toeic",
		Name:        "Minimum TOEIC score",
		Description: "At least 800 points",
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := catalogTestRequest(http.MethodPost, "/rules/", map[string]any{
		"name":        "Minimum TOEIC score",
		"description": "At least 800 points",
	})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.createRuleCmd.Actor.ID != "td_1" {
		t.Fatalf("expected actor td_1, got %s", svc.createRuleCmd.Actor.ID)
	}
	if svc.createRuleCmd.Name != "Minimum TOEIC score" {
		t.Fatalf("unexpected rule name %q", svc.createRuleCmd.Name)
	}

	var decoded rulePayload
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.ID != "rule_toeic" {
		t.Fatalf("expected rule id rule_toeic, got %s", decoded.ID)
	}
}

func TestCatalogHandlersCreateRuleRequiresIdentity(t *testing.T) {
	svc := &stubCatalogService{}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	payload, _ := json.Marshal(map[string]any{"name": "Rule"})
	req := httptest.NewRequest(http.MethodPost, "/rules/", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCatalogHandlersUpdateRuleUsesPathID(t *testing.T) {
	svc := &stubCatalogService{ruleResp: services.Rule{ID: "rule_1", Name: "Renamed"}}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := catalogTestRequest(http.MethodPut, "/rules/rule_1", map[string]any{"name": "Renamed"})
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.updateRuleCmd.RuleID != "rule_1" {
		t.Fatalf("expected rule id from path, got %s", svc.updateRuleCmd.RuleID)
	}
}

func TestCatalogHandlersDeleteRuleConflict(t *testing.T) {
	svc := &stubCatalogService{err: services.ErrCatalogRuleInUse}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := catalogTestRequest(http.MethodDelete, "/rules/rule_1", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "rule_in_use" {
		t.Fatalf("expected rule_in_use code, got %v", body["error"])
	}
}

func TestCatalogHandlersListRulesPagination(t *testing.T) {
	svc := &stubCatalogService{rulePageResp: domain.CursorPage[services.Rule]{
		Items:         []services.Rule{{ID: "rule_1", Name: "A"}, {ID: "rule_2", Name: "B"}},
		NextPageToken: "token-2",
	}}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := catalogTestRequest(http.MethodGet, "/rules/?page_size=2&page_token=token-1", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.listRulesPager.PageSize != 2 || svc.listRulesPager.PageToken != "token-1" {
		t.Fatalf("unexpected pagination %+v", svc.listRulesPager)
	}

	var decoded ruleListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(decoded.Items) != 2 || decoded.NextPageToken != "token-2" {
		t.Fatalf("unexpected list response %+v", decoded)
	}
}

func TestCatalogHandlersCreateDocumentDuplicateName(t *testing.T) {
	svc := &stubCatalogService{err: services.ErrCatalogDuplicateName}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := catalogTestRequest(http.MethodPost, "/documents/", map[string]any{
		"name":     "TOEIC certificate",
		"required": true,
		"rule_ids": []string{"rule_toeic"},
	})
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
		t.Fatalf("expected duplicate_name code, got %v", body["error"])
	}
	if svc.createDocCmd.Name != "TOEIC certificate" || !svc.createDocCmd.Required {
		t.Fatalf("unexpected command %+v", svc.createDocCmd)
	}
}

func TestCatalogHandlersAttachAndDetachRule(t *testing.T) {
	svc := &stubCatalogService{documentResp: services.Document{
		ID:      "doc_toeic",
		Name:    "TOEIC certificate",
		RuleIDs: []string{"rule_toeic"},
	}}
	handler := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	attach := catalogTestRequest(http.MethodPost, "/documents/doc_toeic/rules/rule_toeic", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, attach)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on attach, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.attachCmd.DocumentID != "doc_toeic" || svc.attachCmd.RuleID != "rule_toeic" {
		t.Fatalf("unexpected attach command %+v", svc.attachCmd)
	}

	detach := catalogTestRequest(http.MethodDelete, "/documents/doc_toeic/rules/rule_toeic", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, detach)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on detach, got %d", resp.Code)
	}
	if svc.detachCmd.RuleID != "rule_toeic" {
		t.Fatalf("unexpected detach command %+v", svc.detachCmd)
	}
}
