package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/store"
)

// AuthHandler handles login and profile endpoints.
type AuthHandler struct {
	*Handler
	verifier *identity.Verifier
	tokens   *identity.Tokens
	users    store.UserRepository
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(base *Handler, verifier *identity.Verifier, tokens *identity.Tokens, users store.UserRepository) *AuthHandler {
	return &AuthHandler{Handler: base, verifier: verifier, tokens: tokens, users: users}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string             `json:"token"`
	User  domain.PublicUser `json:"user"`
}

type userResponse struct {
	User domain.PublicUser `json:"user"`
}

// Login verifies credentials and issues a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.verifier.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		h.WriteError(w, r, err, "Server error")
		return
	}

	token, _, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		h.WriteError(w, r, err, "Server error")
		return
	}
	JSON(w, http.StatusOK, loginResponse{Token: token, User: user.Public()})
}

// GetMe returns the authenticated user.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	JSON(w, http.StatusOK, userResponse{User: user.Public()})
}

type updateMeRequest struct {
	Name string `json:"name"`
}

// UpdateMe changes the caller's display name. An empty name leaves the
// profile unchanged.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req updateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		JSON(w, http.StatusOK, userResponse{User: user.Public()})
		return
	}
	updated, err := h.users.UpdateUserName(r.Context(), user.ID, name)
	if err != nil {
		h.WriteError(w, r, err, "Server error")
		return
	}
	JSON(w, http.StatusOK, userResponse{User: updated.Public()})
}

// Logout acknowledges a logout. Tokens are stateless; the client discards
// its copy.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
