package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flightline-academy/api/internal/platform/httpx"
	"github.com/flightline-academy/api/internal/services"
)

// InternalHandlers exposes server-to-server endpoints. The transition
// notification endpoint receives Pub/Sub push deliveries for events published
// by the matrix service and records them for the notification audit trail.
type InternalHandlers struct {
	audit services.AuditLogService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(audit services.AuditLogService) *InternalHandlers {
	return &InternalHandlers{audit: audit}
}

// Routes registers internal endpoints. Authentication is applied by the
// router's internal middleware group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notifications/transitions", h.receiveTransition)
}

// pushEnvelope is the Pub/Sub push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (h *InternalHandlers) receiveTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var envelope pushEnvelope
	if err := decodeJSONBody(r, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message data is not base64", http.StatusBadRequest))
		return
	}

	var event services.TransitionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message data is not a transition event", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(event.MatrixID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transition event missing matrix id", http.StatusBadRequest))
		return
	}

	if h.audit != nil {
		outcome := "success"
		if !event.Succeeded {
			outcome = "failure"
		}
		h.audit.Record(ctx, services.AuditLogRecord{
			Actor:     "notification-pipeline",
			ActorType: "system",
			Action:    "notification.transition.received",
			TargetRef: "/matrices/" + event.MatrixID,
			Severity:  "info",
			RequestID: middleware.GetReqID(ctx),
			Metadata: map[string]any{
				"type":        event.Type,
				"action":      event.Action,
				"outcome":     outcome,
				"failureCode": event.FailureCode,
				"positionId":  event.PositionID,
				"documentId":  event.DocumentID,
				"messageId":   envelope.Message.MessageID,
			},
		})
	}

	// Pub/Sub treats any 2xx as an ack.
	w.WriteHeader(http.StatusNoContent)
}
