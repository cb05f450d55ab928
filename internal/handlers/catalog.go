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

// CatalogHandlers exposes the rule and document-type catalog endpoints.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers catalog endpoints. Reads admit every authenticated role;
// writes are gated inside the catalog service.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Route("/rules", func(rt chi.Router) {
		rt.Get("/", h.listRules)
		rt.Post("/", h.createRule)
		rt.Get("/{ruleID}", h.getRule)
		rt.Put("/{ruleID}", h.updateRule)
		rt.Delete("/{ruleID}", h.deleteRule)
	})
	r.Route("/documents", func(rt chi.Router) {
		rt.Get("/", h.listDocuments)
		rt.Post("/", h.createDocument)
		rt.Get("/{documentID}", h.getDocument)
		rt.Put("/{documentID}", h.updateDocument)
		rt.Delete("/{documentID}", h.deleteDocument)
		rt.Post("/{documentID}/rules/{ruleID}", h.attachRule)
		rt.Delete("/{documentID}/rules/{ruleID}", h.detachRule)
	})
}

type ruleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type rulePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildRulePayload(rule services.Rule) rulePayload {
	return rulePayload{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		CreatedAt:   formatTimestamp(rule.CreatedAt),
		UpdatedAt:   formatTimestamp(rule.UpdatedAt),
	}
}

type ruleListResponse struct {
	Items         []rulePayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

func (h *CatalogHandlers) createRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req ruleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	rule, err := h.catalog.CreateRule(ctx, services.CreateRuleCommand{
		Actor:       actor,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRulePayload(rule))
}

func (h *CatalogHandlers) updateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req ruleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	rule, err := h.catalog.UpdateRule(ctx, services.UpdateRuleCommand{
		Actor:       actor,
		RuleID:      strings.TrimSpace(chi.URLParam(r, "ruleID")),
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRulePayload(rule))
}

func (h *CatalogHandlers) deleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	err := h.catalog.DeleteRule(ctx, services.DeleteRuleCommand{
		Actor:  actor,
		RuleID: strings.TrimSpace(chi.URLParam(r, "ruleID")),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) getRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	rule, err := h.catalog.GetRule(ctx, strings.TrimSpace(chi.URLParam(r, "ruleID")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRulePayload(rule))
}

func (h *CatalogHandlers) listRules(w http.ResponseWriter, r *http.Request) {
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
	page, err := h.catalog.ListRules(ctx, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]rulePayload, 0, len(page.Items))
	for _, rule := range page.Items {
		items = append(items, buildRulePayload(rule))
	}
	writeJSONResponse(w, http.StatusOK, ruleListResponse{Items: items, NextPageToken: page.NextPageToken})
}

type createDocumentRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	RuleIDs     []string `json:"rule_ids"`
}

type updateDocumentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    *bool  `json:"required"`
}

type documentPayload struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	RuleIDs     []string `json:"rule_ids,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func buildDocumentPayload(doc services.Document) documentPayload {
	return documentPayload{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Required:    doc.Required,
		RuleIDs:     doc.RuleIDs,
		CreatedAt:   formatTimestamp(doc.CreatedAt),
		UpdatedAt:   formatTimestamp(doc.UpdatedAt),
	}
}

type documentListResponse struct {
	Items         []documentPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *CatalogHandlers) createDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req createDocumentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	doc, err := h.catalog.CreateDocument(ctx, services.CreateDocumentCommand{
		Actor:       actor,
		Name:        req.Name,
		Description: req.Description,
		Required:    req.Required,
		RuleIDs:     req.RuleIDs,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDocumentPayload(doc))
}

func (h *CatalogHandlers) updateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	doc, err := h.catalog.UpdateDocument(ctx, services.UpdateDocumentCommand{
		Actor:       actor,
		DocumentID:  strings.TrimSpace(chi.URLParam(r, "documentID")),
		Name:        req.Name,
		Description: req.Description,
		Required:    req.Required,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDocumentPayload(doc))
}

func (h *CatalogHandlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	err := h.catalog.RemoveDocument(ctx, services.DeleteDocumentCommand{
		Actor:      actor,
		DocumentID: strings.TrimSpace(chi.URLParam(r, "documentID")),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) getDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	doc, err := h.catalog.GetDocument(ctx, strings.TrimSpace(chi.URLParam(r, "documentID")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDocumentPayload(doc))
}

func (h *CatalogHandlers) listDocuments(w http.ResponseWriter, r *http.Request) {
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
	page, err := h.catalog.ListDocuments(ctx, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]documentPayload, 0, len(page.Items))
	for _, doc := range page.Items {
		items = append(items, buildDocumentPayload(doc))
	}
	writeJSONResponse(w, http.StatusOK, documentListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *CatalogHandlers) attachRule(w http.ResponseWriter, r *http.Request) {
	h.bindRule(w, r, h.catalogAttach)
}

func (h *CatalogHandlers) detachRule(w http.ResponseWriter, r *http.Request) {
	h.bindRule(w, r, h.catalogDetach)
}

func (h *CatalogHandlers) catalogAttach(ctx context.Context, cmd services.AttachRuleCommand) (services.Document, error) {
	return h.catalog.AttachRule(ctx, cmd)
}

func (h *CatalogHandlers) catalogDetach(ctx context.Context, cmd services.AttachRuleCommand) (services.Document, error) {
	return h.catalog.DetachRule(ctx, cmd)
}

func (h *CatalogHandlers) bindRule(w http.ResponseWriter, r *http.Request, op func(context.Context, services.AttachRuleCommand) (services.Document, error)) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	doc, err := op(ctx, services.AttachRuleCommand{
		Actor:      actor,
		DocumentID: strings.TrimSpace(chi.URLParam(r, "documentID")),
		RuleID:     strings.TrimSpace(chi.URLParam(r, "ruleID")),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDocumentPayload(doc))
}

func (h *CatalogHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogRuleNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("rule_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogDocumentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("document_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogDuplicateName):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_name", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogRuleInUse):
		httpx.WriteError(ctx, w, httpx.NewError("rule_in_use", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogDocumentInUse):
		httpx.WriteError(ctx, w, httpx.NewError("document_in_use", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
