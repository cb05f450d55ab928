package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/platform/auth"
	"github.com/flightline-academy/api/internal/platform/httpx"
	"github.com/flightline-academy/api/internal/services"
)

// MatrixHandlers exposes the compliance matrix endpoints: grid shape, cell
// content, the cell state machine, bulk submission, time windows, and signed
// evidence URLs.
type MatrixHandlers struct {
	authn    *auth.Authenticator
	matrices services.MatrixService
	evidence services.EvidenceService
	limiter  rateLimiter
}

// MatrixOption customises matrix handler construction.
type MatrixOption func(*MatrixHandlers)

// WithEvidenceRateLimit throttles signed URL issuance per actor.
func WithEvidenceRateLimit(limit int, window time.Duration) MatrixOption {
	return func(h *MatrixHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewMatrixHandlers constructs matrix handlers.
func NewMatrixHandlers(authn *auth.Authenticator, matrices services.MatrixService, evidence services.EvidenceService, opts ...MatrixOption) *MatrixHandlers {
	h := &MatrixHandlers{authn: authn, matrices: matrices, evidence: evidence}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers matrix endpoints.
func (h *MatrixHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getMatrixByDepartment)
	r.Post("/", h.createMatrix)
	r.Route("/{matrixID}", func(rt chi.Router) {
		rt.Get("/", h.getMatrix)
		rt.Post("/rows", h.addRows)
		rt.Delete("/rows/{positionID}", h.removeRow)
		rt.Post("/columns", h.addColumns)
		rt.Delete("/columns/{documentID}", h.removeColumn)
		rt.Post("/clear", h.clearMatrix)
		rt.Post("/submissions", h.submitForReview)
		rt.Get("/window", h.effectiveWindow)
		rt.Put("/windows/deadline", h.setDeadlineWindow)
		rt.Put("/windows/active", h.setActiveWindow)
		rt.Route("/cells/{positionID}/{documentID}", func(cell chi.Router) {
			cell.Get("/", h.getCell)
			cell.Put("/", h.updateCell)
			cell.Post("/transitions", h.transitionCell)
			cell.Post("/evidence/upload-url", h.evidenceUploadURL)
			cell.Post("/evidence/download-url", h.evidenceDownloadURL)
		})
	})
}

type ruleValuePayload struct {
	RuleID string `json:"rule_id"`
	Value  string `json:"value"`
}

type cellPayload struct {
	PositionID   string             `json:"position_id"`
	DocumentID   string             `json:"document_id"`
	Status       string             `json:"status"`
	RuleValues   []ruleValuePayload `json:"rule_values,omitempty"`
	RejectReason string             `json:"reject_reason,omitempty"`
	EvidenceRef  string             `json:"evidence_ref,omitempty"`
	Version      int64              `json:"version"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
	UpdatedBy    string             `json:"updated_by,omitempty"`
}

func buildCellPayload(cell services.Cell) cellPayload {
	payload := cellPayload{
		PositionID:   cell.PositionID,
		DocumentID:   cell.DocumentID,
		Status:       string(cell.Status),
		RejectReason: cell.RejectReason,
		EvidenceRef:  cell.EvidenceRef,
		Version:      cell.Version,
		UpdatedAt:    formatTimestamp(cell.UpdatedAt),
		UpdatedBy:    cell.UpdatedBy,
	}
	for _, value := range cell.RuleValues {
		payload.RuleValues = append(payload.RuleValues, ruleValuePayload{RuleID: value.RuleID, Value: value.Value})
	}
	return payload
}

type windowPayload struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

func buildWindowPayload(window services.TimeWindow) windowPayload {
	return windowPayload{
		Start: formatTimestampPtr(window.Start),
		End:   formatTimestampPtr(window.End),
	}
}

type matrixPayload struct {
	ID             string        `json:"id"`
	DepartmentID   string        `json:"department_id"`
	Rows           []string      `json:"rows"`
	Columns        []string      `json:"columns"`
	Cells          []cellPayload `json:"cells"`
	DeadlineWindow windowPayload `json:"deadline_window"`
	ActiveWindow   windowPayload `json:"active_window"`
	WindowKind     string        `json:"window_kind"`
	Version        int64         `json:"version"`
	CreatedAt      string        `json:"created_at,omitempty"`
	UpdatedAt      string        `json:"updated_at,omitempty"`
}

func buildMatrixPayload(matrix services.Matrix) matrixPayload {
	kind, _ := matrix.EffectiveWindow()
	cells := matrix.MaterialisedCells()
	payload := matrixPayload{
		ID:             matrix.ID,
		DepartmentID:   matrix.DepartmentID,
		Rows:           matrix.Rows,
		Columns:        matrix.Columns,
		Cells:          make([]cellPayload, 0, len(cells)),
		DeadlineWindow: buildWindowPayload(matrix.Deadline),
		ActiveWindow:   buildWindowPayload(matrix.Active),
		WindowKind:     string(kind),
		Version:        matrix.Version,
		CreatedAt:      formatTimestamp(matrix.CreatedAt),
		UpdatedAt:      formatTimestamp(matrix.UpdatedAt),
	}
	if payload.Rows == nil {
		payload.Rows = []string{}
	}
	if payload.Columns == nil {
		payload.Columns = []string{}
	}
	for _, cell := range cells {
		payload.Cells = append(payload.Cells, buildCellPayload(cell))
	}
	return payload
}

func (h *MatrixHandlers) createMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		DepartmentID string `json:"department_id"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	matrix, err := h.matrices.CreateMatrix(ctx, services.CreateMatrixCommand{
		Actor:        actor,
		DepartmentID: strings.TrimSpace(req.DepartmentID),
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) getMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	matrix, err := h.matrices.GetMatrix(ctx, strings.TrimSpace(chi.URLParam(r, "matrixID")))
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) getMatrixByDepartment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	departmentID := strings.TrimSpace(r.URL.Query().Get("department_id"))
	if departmentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "department_id is required", http.StatusBadRequest))
		return
	}
	matrix, err := h.matrices.GetMatrixByDepartment(ctx, departmentID)
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) addRows(w http.ResponseWriter, r *http.Request) {
	h.structural(w, r, "position_ids", h.matrices.AddRows)
}

func (h *MatrixHandlers) addColumns(w http.ResponseWriter, r *http.Request) {
	h.structural(w, r, "document_ids", h.matrices.AddColumns)
}

func (h *MatrixHandlers) structural(w http.ResponseWriter, r *http.Request, field string, op func(context.Context, services.StructuralCommand) (services.Matrix, error)) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		PositionIDs []string `json:"position_ids"`
		DocumentIDs []string `json:"document_ids"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	ids := req.PositionIDs
	if field == "document_ids" {
		ids = req.DocumentIDs
	}
	if len(ids) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field+" is required", http.StatusBadRequest))
		return
	}
	matrix, err := op(ctx, services.StructuralCommand{
		Actor:    actor,
		MatrixID: strings.TrimSpace(chi.URLParam(r, "matrixID")),
		IDs:      ids,
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) removeRow(w http.ResponseWriter, r *http.Request) {
	h.removeStructural(w, r, chi.URLParam(r, "positionID"), h.matrices.RemoveRow)
}

func (h *MatrixHandlers) removeColumn(w http.ResponseWriter, r *http.Request) {
	h.removeStructural(w, r, chi.URLParam(r, "documentID"), h.matrices.RemoveColumn)
}

func (h *MatrixHandlers) removeStructural(w http.ResponseWriter, r *http.Request, id string, op func(context.Context, services.StructuralCommand) (services.Matrix, error)) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	matrix, err := op(ctx, services.StructuralCommand{
		Actor:    actor,
		MatrixID: strings.TrimSpace(chi.URLParam(r, "matrixID")),
		IDs:      []string{strings.TrimSpace(id)},
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) clearMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	matrix, err := h.matrices.Clear(ctx, services.ClearMatrixCommand{
		Actor:    actor,
		MatrixID: strings.TrimSpace(chi.URLParam(r, "matrixID")),
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func cellKeyFromRequest(r *http.Request) services.CellKey {
	return services.CellKey{
		PositionID: strings.TrimSpace(chi.URLParam(r, "positionID")),
		DocumentID: strings.TrimSpace(chi.URLParam(r, "documentID")),
	}
}

func (h *MatrixHandlers) getCell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	cell, err := h.matrices.GetCell(ctx, strings.TrimSpace(chi.URLParam(r, "matrixID")), cellKeyFromRequest(r))
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCellPayload(cell))
}

func (h *MatrixHandlers) updateCell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		RuleValues      []ruleValuePayload `json:"rule_values"`
		EvidenceRef     *string            `json:"evidence_ref"`
		ExpectedVersion *int64             `json:"expected_version"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	values := make([]services.RuleValue, 0, len(req.RuleValues))
	for _, value := range req.RuleValues {
		values = append(values, services.RuleValue{RuleID: strings.TrimSpace(value.RuleID), Value: value.Value})
	}
	var evidenceRef *string
	if req.EvidenceRef != nil {
		trimmed := strings.TrimSpace(*req.EvidenceRef)
		evidenceRef = &trimmed
	}
	cell, err := h.matrices.UpdateCellValues(ctx, services.UpdateCellCommand{
		Actor:           actor,
		MatrixID:        strings.TrimSpace(chi.URLParam(r, "matrixID")),
		Key:             cellKeyFromRequest(r),
		RuleValues:      values,
		EvidenceRef:     evidenceRef,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCellPayload(cell))
}

func (h *MatrixHandlers) transitionCell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		Action          string `json:"action"`
		Reason          string `json:"reason"`
		ExpectedVersion *int64 `json:"expected_version"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	action, valid := services.ParseCellAction(strings.TrimSpace(req.Action))
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown action "+req.Action, http.StatusBadRequest))
		return
	}
	cell, err := h.matrices.Transition(ctx, services.TransitionCommand{
		Actor:           actor,
		MatrixID:        strings.TrimSpace(chi.URLParam(r, "matrixID")),
		Key:             cellKeyFromRequest(r),
		Action:          action,
		Reason:          strings.TrimSpace(req.Reason),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCellPayload(cell))
}

func (h *MatrixHandlers) submitForReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		Cells []struct {
			PositionID string `json:"position_id"`
			DocumentID string `json:"document_id"`
		} `json:"cells"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	keys := make([]services.CellKey, 0, len(req.Cells))
	for _, cell := range req.Cells {
		keys = append(keys, services.CellKey{
			PositionID: strings.TrimSpace(cell.PositionID),
			DocumentID: strings.TrimSpace(cell.DocumentID),
		})
	}
	matrix, err := h.matrices.SubmitForReview(ctx, services.BulkSubmitCommand{
		Actor:    actor,
		MatrixID: strings.TrimSpace(chi.URLParam(r, "matrixID")),
		Keys:     keys,
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

func (h *MatrixHandlers) setDeadlineWindow(w http.ResponseWriter, r *http.Request) {
	h.setWindow(w, r, h.matrices.SetDeadlineWindow)
}

func (h *MatrixHandlers) setActiveWindow(w http.ResponseWriter, r *http.Request) {
	h.setWindow(w, r, h.matrices.SetActiveWindow)
}

func (h *MatrixHandlers) setWindow(w http.ResponseWriter, r *http.Request, op func(context.Context, services.SetWindowCommand) (services.Matrix, error)) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	start, err := parseTimeParam(strings.TrimSpace(req.Start))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid start: "+err.Error(), http.StatusBadRequest))
		return
	}
	end, err := parseTimeParam(strings.TrimSpace(req.End))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid end: "+err.Error(), http.StatusBadRequest))
		return
	}
	matrix, err := op(ctx, services.SetWindowCommand{
		Actor:    actor,
		MatrixID: strings.TrimSpace(chi.URLParam(r, "matrixID")),
		Start:    start,
		End:      end,
	})
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMatrixPayload(matrix))
}

type effectiveWindowResponse struct {
	Kind   string        `json:"kind"`
	Window windowPayload `json:"window"`
}

func (h *MatrixHandlers) effectiveWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}
	kind, window, err := h.matrices.EffectiveWindow(ctx, strings.TrimSpace(chi.URLParam(r, "matrixID")))
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, effectiveWindowResponse{
		Kind:   string(kind),
		Window: buildWindowPayload(window),
	})
}

type evidenceURLResponse struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	EvidenceRef string            `json:"evidence_ref"`
	ExpiresAt   string            `json:"expires_at"`
}

func (h *MatrixHandlers) evidenceUploadURL(w http.ResponseWriter, r *http.Request) {
	h.signEvidence(w, r, true)
}

func (h *MatrixHandlers) evidenceDownloadURL(w http.ResponseWriter, r *http.Request) {
	h.signEvidence(w, r, false)
}

func (h *MatrixHandlers) signEvidence(w http.ResponseWriter, r *http.Request, upload bool) {
	ctx := r.Context()
	if h.evidence == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "evidence service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many signing requests", http.StatusTooManyRequests))
		return
	}
	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if upload {
		if err := decodeJSONBody(r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
	}
	cmd := services.EvidenceURLCommand{
		Actor:       actor,
		MatrixID:    strings.TrimSpace(chi.URLParam(r, "matrixID")),
		Key:         cellKeyFromRequest(r),
		Filename:    strings.TrimSpace(req.Filename),
		ContentType: strings.TrimSpace(req.ContentType),
	}
	var (
		signed services.SignedEvidenceResponse
		err    error
	)
	if upload {
		signed, err = h.evidence.UploadURL(ctx, cmd)
	} else {
		signed, err = h.evidence.DownloadURL(ctx, cmd)
	}
	if err != nil {
		writeMatrixError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, evidenceURLResponse{
		URL:         signed.URL,
		Method:      signed.Method,
		Headers:     signed.Headers,
		EvidenceRef: signed.EvidenceRef,
		ExpiresAt:   formatTimestamp(signed.ExpiresAt),
	})
}

func (h *MatrixHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.matrices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "matrix service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func writeMatrixError(ctx context.Context, w http.ResponseWriter, err error) {
	var transitionErr *services.InvalidTransitionError
	var bulkErr *services.BulkPreconditionError

	switch {
	case errors.Is(err, services.ErrMatrixInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMatrixNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("matrix_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrMatrixExists):
		httpx.WriteError(ctx, w, httpx.NewError("matrix_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixRowNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("row_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrMatrixColumnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("column_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrMatrixCellNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cell_not_found", err.Error(), http.StatusNotFound))
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"current_status":   string(transitionErr.Current),
			"requested_action": string(transitionErr.Requested),
		}))
	case errors.Is(err, services.ErrMatrixMissingReason):
		httpx.WriteError(ctx, w, httpx.NewError("missing_reason", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMatrixCellLocked):
		httpx.WriteError(ctx, w, httpx.NewError("cell_locked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixStaleCell):
		httpx.WriteError(ctx, w, httpx.NewError("stale_state", err.Error(), http.StatusConflict))
	case errors.As(err, &bulkErr):
		httpx.WriteError(ctx, w, httpx.NewError("bulk_precondition_failed", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"offending_cells": bulkCellRefs(bulkErr.OffendingKeys),
		}))
	case errors.Is(err, services.ErrMatrixRuleNotAttached):
		httpx.WriteError(ctx, w, httpx.NewError("rule_not_attached", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMatrixInvalidWindowRange):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_window_range", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMatrixDeadlinePending):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_pending", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("window_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrMatrixUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	case errors.Is(err, services.ErrMatrixTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", err.Error(), http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrEvidenceInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEvidenceUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "evidence service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func bulkCellRefs(keys []domain.CellKey) []string {
	refs := make([]string, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, key.PositionID+"/"+key.DocumentID)
	}
	return refs
}
