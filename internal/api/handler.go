// Package api provides HTTP handlers for the agentdesk API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	isDev bool
}

// NewHandler creates a new Handler. In development, internal error details
// are returned to the client.
func NewHandler(isDev bool) *Handler {
	return &Handler{isDev: isDev}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"message": message})
}

// WriteError maps err onto the HTTP error taxonomy. fallback is the client
// message for unexpected failures.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *domain.ValidationError
	var upstream *domain.UpstreamError

	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, map[string]any{
			"message": "Validation failed",
			"errors":  verr.Violations,
		})
	case errors.Is(err, domain.ErrDuplicateName):
		Error(w, http.StatusBadRequest, "An agent with this display name already exists")
	case errors.Is(err, domain.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, domain.ErrAccountInactive):
		Error(w, http.StatusUnauthorized, "Account is inactive")
	case errors.Is(err, domain.ErrUnauthenticated):
		Error(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, "Admin access required")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, notFoundMessage(r))
	case errors.As(err, &upstream):
		slog.Warn("Upstream request failed", "op", upstream.Op, "status", upstream.Status, "error", err,
			"user_id", identity.UserIDFromContext(r.Context()),
			"request_id", middleware.GetReqID(r.Context()))
		details := map[string]any{"status": upstream.Status}
		if upstream.Body != "" {
			details["data"] = upstream.Body
		}
		JSON(w, http.StatusBadGateway, map[string]any{
			"message": fallback,
			"error":   upstream.Error(),
			"details": details,
		})
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err,
			"user_id", identity.UserIDFromContext(r.Context()),
			"request_id", middleware.GetReqID(r.Context()))
		body := map[string]any{"message": fallback}
		if h.isDev {
			body["error"] = err.Error()
		}
		JSON(w, http.StatusInternalServerError, body)
	}
}

func notFoundMessage(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/api/agents") {
		return "Agent not found"
	}
	return "Not found"
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
