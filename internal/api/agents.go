package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/registry"
	"github.com/go-chi/chi/v5"
)

// AgentHandler serves the agent catalog.
type AgentHandler struct {
	*Handler
	registry *registry.Service
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(base *Handler, svc *registry.Service) *AgentHandler {
	return &AgentHandler{Handler: base, registry: svc}
}

type pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type listResponse struct {
	Agents     []*domain.Agent `json:"agents"`
	Pagination pagination      `json:"pagination"`
}

func callerRole(r *http.Request) domain.Role {
	if u := identity.UserFromContext(r.Context()); u != nil {
		return u.Role
	}
	return domain.RoleUser
}

// List returns one page of agents.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := registry.ListParams{
		Page:  queryInt(q.Get("page")),
		Limit: queryInt(q.Get("limit")),
	}
	if v := q.Get("active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			params.Active = &b
		}
	}

	page, err := h.registry.List(r.Context(), params, callerRole(r))
	if err != nil {
		h.WriteError(w, r, err, "Error retrieving agents")
		return
	}
	JSON(w, http.StatusOK, listResponse{
		Agents:     page.Agents,
		Pagination: pagination{Total: page.Total, Page: page.Page, Pages: page.Pages},
	})
}

// GetByAssistantID resolves the agent fronting an assistant.
func (h *AgentHandler) GetByAssistantID(w http.ResponseWriter, r *http.Request) {
	assistantID := strings.TrimSpace(chi.URLParam(r, "assistantId"))
	if assistantID == "" {
		Error(w, http.StatusBadRequest, "Assistant ID is required")
		return
	}
	agent, err := h.registry.GetByAssistantID(r.Context(), assistantID, callerRole(r))
	if err != nil {
		h.WriteError(w, r, err, "Error retrieving agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Get returns one agent by ID.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err, "Error retrieving agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Create adds an agent.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.AgentInput
	if err := decodeJSON(w, r, &in); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	agent, err := h.registry.Create(r.Context(), in)
	if err != nil {
		h.WriteError(w, r, err, "Error creating agent")
		return
	}
	JSON(w, http.StatusCreated, agent)
}

// Update replaces an agent's writable fields.
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in domain.AgentInput
	if err := decodeJSON(w, r, &in); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	agent, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.WriteError(w, r, err, "Error updating agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Delete removes an agent.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.WriteError(w, r, err, "Error deleting agent")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Agent deleted successfully"})
}

// ToggleStatus flips an agent's active flag.
func (h *AgentHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.ToggleActive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err, "Error toggling agent status")
		return
	}
	JSON(w, http.StatusOK, agent)
}

type availableRequest struct {
	APIURL string `json:"apiUrl"`
	APIKey string `json:"apiKey"`
}

// Available lists the assistants deployed at an external endpoint.
func (h *AgentHandler) Available(w http.ResponseWriter, r *http.Request) {
	var req availableRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.APIURL) == "" {
		Error(w, http.StatusBadRequest, "API URL is required")
		return
	}
	raw, err := h.registry.FetchAvailable(r.Context(), req.APIURL, req.APIKey)
	if err != nil {
		h.WriteError(w, r, err, "Failed to fetch agents from LangGraph")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func queryInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
