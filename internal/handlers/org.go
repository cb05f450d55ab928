package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flightline-academy/api/internal/platform/auth"
	"github.com/flightline-academy/api/internal/platform/httpx"
	"github.com/flightline-academy/api/internal/services"
)

// OrgHandlers exposes the department and position hierarchy endpoints.
type OrgHandlers struct {
	authn *auth.Authenticator
	org   services.OrgService
}

// NewOrgHandlers constructs organisation handlers.
func NewOrgHandlers(authn *auth.Authenticator, org services.OrgService) *OrgHandlers {
	return &OrgHandlers{authn: authn, org: org}
}

// Routes registers organisation endpoints.
func (h *OrgHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Route("/departments", func(rt chi.Router) {
		rt.Get("/", h.listDepartments)
		rt.Post("/", h.createDepartment)
		rt.Get("/{departmentID}", h.getDepartment)
		rt.Put("/{departmentID}", h.renameDepartment)
		rt.Get("/{departmentID}/positions", h.listPositions)
		rt.Post("/{departmentID}/positions", h.createPosition)
	})
	r.Route("/positions", func(rt chi.Router) {
		rt.Get("/{positionID}", h.getPosition)
		rt.Put("/{positionID}", h.updatePosition)
		rt.Delete("/{positionID}", h.deletePosition)
	})
}

type namedEntityRequest struct {
	Name string `json:"name"`
}

type departmentPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildDepartmentPayload(dept services.Department) departmentPayload {
	return departmentPayload{
		ID:        dept.ID,
		Name:      dept.Name,
		CreatedAt: formatTimestamp(dept.CreatedAt),
		UpdatedAt: formatTimestamp(dept.UpdatedAt),
	}
}

type departmentListResponse struct {
	Items         []departmentPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type positionPayload struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildPositionPayload(position services.Position) positionPayload {
	return positionPayload{
		ID:           position.ID,
		DepartmentID: position.DepartmentID,
		Name:         position.Name,
		CreatedAt:    formatTimestamp(position.CreatedAt),
		UpdatedAt:    formatTimestamp(position.UpdatedAt),
	}
}

type positionListResponse struct {
	Items         []positionPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *OrgHandlers) createDepartment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req namedEntityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	dept, err := h.org.CreateDepartment(ctx, services.CreateDepartmentCommand{Actor: actor, Name: req.Name})
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDepartmentPayload(dept))
}

func (h *OrgHandlers) renameDepartment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req namedEntityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	dept, err := h.org.RenameDepartment(ctx, services.RenameDepartmentCommand{
		Actor:        actor,
		DepartmentID: strings.TrimSpace(chi.URLParam(r, "departmentID")),
		Name:         req.Name,
	})
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDepartmentPayload(dept))
}

func (h *OrgHandlers) getDepartment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	dept, err := h.org.GetDepartment(ctx, strings.TrimSpace(chi.URLParam(r, "departmentID")))
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDepartmentPayload(dept))
}

func (h *OrgHandlers) listDepartments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.org.ListDepartments(ctx, pager)
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	items := make([]departmentPayload, 0, len(page.Items))
	for _, dept := range page.Items {
		items = append(items, buildDepartmentPayload(dept))
	}
	writeJSONResponse(w, http.StatusOK, departmentListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrgHandlers) createPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req namedEntityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	position, err := h.org.CreatePosition(ctx, services.CreatePositionCommand{
		Actor:        actor,
		DepartmentID: strings.TrimSpace(chi.URLParam(r, "departmentID")),
		Name:         req.Name,
	})
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPositionPayload(position))
}

func (h *OrgHandlers) updatePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req namedEntityRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	position, err := h.org.UpdatePosition(ctx, services.UpdatePositionCommand{
		Actor:      actor,
		PositionID: strings.TrimSpace(chi.URLParam(r, "positionID")),
		Name:       req.Name,
	})
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPositionPayload(position))
}

func (h *OrgHandlers) deletePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	err := h.org.DeletePosition(ctx, services.DeletePositionCommand{
		Actor:      actor,
		PositionID: strings.TrimSpace(chi.URLParam(r, "positionID")),
	})
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrgHandlers) getPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	position, err := h.org.GetPosition(ctx, strings.TrimSpace(chi.URLParam(r, "positionID")))
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPositionPayload(position))
}

func (h *OrgHandlers) listPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.org.ListPositions(ctx, strings.TrimSpace(chi.URLParam(r, "departmentID")), pager)
	if err != nil {
		writeOrgError(ctx, w, err)
		return
	}
	items := make([]positionPayload, 0, len(page.Items))
	for _, position := range page.Items {
		items = append(items, buildPositionPayload(position))
	}
	writeJSONResponse(w, http.StatusOK, positionListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrgHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.org == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "organisation service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func writeOrgError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrgInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrgDepartmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("department_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrgPositionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("position_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrgDuplicateName):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_name", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrgPositionInUse):
		httpx.WriteError(ctx, w, httpx.NewError("position_in_use", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
