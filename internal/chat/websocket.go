package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/langgraph"
	"github.com/ashureev/agentdesk/internal/threads"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

// Frame types exchanged over the socket.
const (
	FrameMessage  = "message"
	FrameMessages = "messages"
	FrameThreads  = "threads"
	FrameThread   = "thread"
	FrameWarning  = "warning"
	FrameError    = "error"
	FrameDone     = "done"
	FramePing     = "ping"
	FramePong     = "pong"
)

// Frame is one JSON message on the chat socket.
type Frame struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	ThreadID string              `json:"threadId,omitempty"`
	Messages []langgraph.Message `json:"messages,omitempty"`
	Groups   []threads.Group     `json:"groups,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// BackendFactory builds the assistant API backend for a resolved config.
type BackendFactory func(cfg clientcfg.Config) (Backend, error)

// ClientBackend is the default factory, backed by the langgraph client.
func ClientBackend(cfg clientcfg.Config) (Backend, error) {
	client, err := langgraph.NewClient(langgraph.Config{BaseURL: cfg.APIURL, APIKey: cfg.APIKey})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// UserLookup reloads an account so long-lived connections notice
// deactivation.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// WSHandler relays chat sessions to authenticated WebSocket clients.
type WSHandler struct {
	sm             *SessionManager
	users          UserLookup
	defaults       clientcfg.Config
	newBackend     BackendFactory
	allowedOrigins []string
	isDev          bool
	refreshDelay   time.Duration
}

// NewWSHandler creates a relay. defaults carries the server-side API URL and
// key; the assistant may be chosen per connection. When users is non-nil,
// every request frame re-checks the account and a deactivated user loses
// all of their connections.
func NewWSHandler(sm *SessionManager, users UserLookup, defaults clientcfg.Config, newBackend BackendFactory, allowedOrigins []string, isDev bool) *WSHandler {
	if newBackend == nil {
		newBackend = ClientBackend
	}
	return &WSHandler{
		sm:             sm,
		users:          users,
		defaults:       defaults,
		newBackend:     newBackend,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP upgrades the request and runs the session until either side
// closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	cfg := h.defaults
	if id := strings.TrimSpace(r.URL.Query().Get("assistantId")); id != "" {
		cfg.AssistantID = id
	}
	if missing := clientcfg.Validate(cfg); len(missing) > 0 {
		http.Error(w, "assistant API is not configured", http.StatusServiceUnavailable)
		return
	}
	backend, err := h.newBackend(cfg)
	if err != nil {
		slog.Error("Failed to create assistant backend", "error", err)
		http.Error(w, "assistant API is not configured", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", user.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", user.ID)
		}
	}()

	connID := uuid.NewString()
	h.sm.Register(user.ID, connID, ws)
	defer h.sm.Unregister(user.ID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := func(f Frame) {
		if err := writeJSON(ctx, ws, f); err != nil && ctx.Err() == nil {
			slog.Debug("Failed to write chat frame", "error", err, "type", f.Type)
		}
	}

	session := NewSession(cfg, backend, Options{
		Notifier: NotifierFunc(func(title, detail string) {
			send(Frame{Type: FrameWarning, Message: title, Content: detail})
		}),
		OnMessages: func(msgs []langgraph.Message) {
			send(Frame{Type: FrameMessages, Messages: msgs})
		},
		OnThreads: func(list []domain.Thread) {
			send(Frame{Type: FrameThreads, Groups: threads.GroupByTime(list, time.Now())})
		},
		RefreshDelay: h.refreshDelay,
	})
	defer session.Close()

	_ = session.Start(ctx)
	if threadID := strings.TrimSpace(r.URL.Query().Get("threadId")); threadID != "" {
		if err := session.Resume(ctx, threadID); err != nil {
			send(Frame{Type: FrameError, Message: errorMessage(err)})
		} else {
			send(Frame{Type: FrameThread, ThreadID: threadID})
		}
	}

	h.readLoop(ctx, ws, session, send, user.ID)
	slog.Info("Chat session ended", "user_id", user.ID, "conn_id", connID)
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, session *Session, send func(Frame), userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var in Frame
		if err := json.Unmarshal(data, &in); err != nil {
			send(Frame{Type: FrameError, Message: "invalid frame"})
			continue
		}
		if in.Type != FramePing && h.revoked(ctx, userID) {
			slog.Info("Closing chat connections of inactive user", "user_id", userID)
			h.sm.CloseUser(userID)
			return
		}

		switch in.Type {
		case FrameMessage:
			content := strings.TrimSpace(in.Content)
			if content == "" {
				send(Frame{Type: FrameError, Message: "message content is required"})
				continue
			}
			before := session.ThreadID()
			if err := session.Submit(ctx, content); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Chat submit failed", "error", err, "user_id", userID)
				send(Frame{Type: FrameError, Message: errorMessage(err)})
				continue
			}
			if after := session.ThreadID(); after != before {
				send(Frame{Type: FrameThread, ThreadID: after})
			}
			send(Frame{Type: FrameDone, ThreadID: session.ThreadID()})
		case FrameThreads:
			list, err := session.Threads(ctx)
			if err != nil {
				send(Frame{Type: FrameError, Message: errorMessage(err)})
				continue
			}
			send(Frame{Type: FrameThreads, Groups: threads.GroupByTime(list, time.Now())})
		case FramePing:
			send(Frame{Type: FramePong})
		default:
			send(Frame{Type: FrameError, Message: "unknown frame type"})
		}
	}
}

// revoked reports whether the user was deactivated or removed after
// connecting. Lookup failures keep the connection open.
func (h *WSHandler) revoked(ctx context.Context, userID string) bool {
	if h.users == nil {
		return false
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		slog.Warn("Failed to recheck chat user", "error", err, "user_id", userID)
		return false
	}
	return user == nil || !user.Active
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func errorMessage(err error) string {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return "assistant API request failed"
	}
	return "chat request failed"
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
