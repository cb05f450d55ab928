package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/platform/auth"
	"github.com/flightline-academy/api/internal/platform/httpx"
	"github.com/flightline-academy/api/internal/platform/pagination"
	"github.com/flightline-academy/api/internal/services"
)

const maxRequestBody = 256 * 1024

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireActor resolves the authenticated identity into a domain actor. A
// false return means the error response was already written.
func requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actorFromIdentity(identity), true
}

func actorFromIdentity(identity *auth.Identity) services.Actor {
	roles := make([]domain.Role, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, domain.Role(role))
	}
	return services.Actor{
		ID:           strings.TrimSpace(identity.UID),
		DepartmentID: strings.TrimSpace(identity.DepartmentID),
		Roles:        roles,
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	limited := io.LimitReader(r.Body, maxRequestBody)
	defer r.Body.Close()
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePagination(r *http.Request) (services.Pagination, error) {
	pageSize, err := pagination.ParsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		return services.Pagination{}, errors.New("page_size must be an integer")
	}
	return services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	}, nil
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimestampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTimestamp(*t)
}
