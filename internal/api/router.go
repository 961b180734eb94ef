package api

import (
	"net/http"

	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/middleware"
	"github.com/ashureev/agentdesk/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Limiters are the per-tier request limiters.
type Limiters struct {
	Login *ratelimit.FixedWindow
	API   *ratelimit.FixedWindow
	Admin *ratelimit.FixedWindow
}

// RouterConfig wires handlers into the HTTP surface.
type RouterConfig struct {
	Auth          *AuthHandler
	Agents        *AgentHandler
	Health        *HealthHandler
	Authenticator *identity.Authenticator
	Limiters      Limiters
	CORSOrigins   []string
	// TrustProxy rewrites RemoteAddr from forwarding headers. Leave it off
	// unless a reverse proxy overwrites those headers, otherwise clients
	// pick their own rate limit key.
	TrustProxy bool
	// ChatWS and SPA are optional.
	ChatWS http.Handler
	SPA    http.Handler
}

// NewRouter builds the application router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	if cfg.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	cfg.Health.RegisterHealth(r)

	authenticate := identity.Middleware(cfg.Authenticator)

	r.Route("/api", func(r chi.Router) {
		r.Use(ratelimit.Middleware(cfg.Limiters.API, "Too many requests, please try again later"))

		r.Route("/auth", func(r chi.Router) {
			r.With(ratelimit.Middleware(cfg.Limiters.Login, "Too many login attempts, please try again after 15 minutes")).
				Post("/login", cfg.Auth.Login)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Get("/me", cfg.Auth.GetMe)
				r.Put("/me", cfg.Auth.UpdateMe)
				r.Post("/logout", cfg.Auth.Logout)
			})
		})

		r.Route("/agents", func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/", cfg.Agents.List)
			r.Get("/by-assistant/{assistantId}", cfg.Agents.GetByAssistantID)

			r.Group(func(r chi.Router) {
				r.Use(identity.RequireAdmin)
				r.Use(ratelimit.Middleware(cfg.Limiters.Admin, "Too many requests, please try again later"))
				r.Post("/", cfg.Agents.Create)
				r.Post("/available", cfg.Agents.Available)
				r.Get("/{id}", cfg.Agents.Get)
				r.Put("/{id}", cfg.Agents.Update)
				r.Delete("/{id}", cfg.Agents.Delete)
				r.Patch("/{id}/status", cfg.Agents.ToggleStatus)
			})
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusNotFound, "Not Found")
		})
	})

	if cfg.ChatWS != nil {
		r.With(authenticate).Get("/ws/chat", cfg.ChatWS.ServeHTTP)
	}

	if cfg.SPA != nil {
		r.Handle("/*", cfg.SPA)
	}

	return r
}
