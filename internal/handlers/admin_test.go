package handlers

import (
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

type stubAdminSystemService struct {
	filter services.AuditLogFilter
	page   domain.CursorPage[domain.AuditLogEntry]
	err    error
}

func (s *stubAdminSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return services.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

func (s *stubAdminSystemService) ListAuditLogs(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	s.filter = filter
	return s.page, s.err
}

var _ services.SystemService = (*stubAdminSystemService)(nil)

func TestAdminHandlersListAuditLogs(t *testing.T) {
	created := time.Date(2024, time.July, 2, 10, 30, 0, 0, time.UTC)
	svc := &stubAdminSystemService{page: domain.CursorPage[domain.AuditLogEntry]{
		Items: []domain.AuditLogEntry{{
			ID:        "log_1",
			Actor:     "td_1",
			ActorType: "user",
			Action:    "matrix.cell.transition",
			TargetRef: "/matrices/mtx_1/cells/pos_captain/doc_toeic",
			Severity:  "info",
			CreatedAt: created,
		}},
		NextPageToken: "token-next",
	}}
	handler := NewAdminHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs?target_ref=/matrices/mtx_1&action=matrix.cell.transition&from=2024-07-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin_1", Roles: []string{auth.RoleAdmin}}))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.filter.TargetRef != "/matrices/mtx_1" || svc.filter.Action != "matrix.cell.transition" {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
	if svc.filter.DateRange.From == nil || !svc.filter.DateRange.From.Equal(time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected from bound, got %+v", svc.filter.DateRange.From)
	}

	var decoded auditLogListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(decoded.Items) != 1 || decoded.Items[0].ID != "log_1" {
		t.Fatalf("unexpected items %+v", decoded.Items)
	}
	if decoded.NextPageToken != "token-next" {
		t.Fatalf("expected next token, got %s", decoded.NextPageToken)
	}
}

func TestAdminHandlersListAuditLogsInvalidFrom(t *testing.T) {
	svc := &stubAdminSystemService{}
	handler := NewAdminHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs?from=yesterday", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin_1", Roles: []string{auth.RoleAdmin}}))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAdminHandlersListAuditLogsRequiresIdentity(t *testing.T) {
	svc := &stubAdminSystemService{}
	handler := NewAdminHandlers(nil, svc)
	router := chi.NewRouter()
	handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
