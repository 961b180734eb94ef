package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withUser(user *domain.User, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != nil {
			r = r.WithContext(identity.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// userTable is an in-memory UserLookup.
type userTable struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (u *userTable) GetUser(_ context.Context, id string) (*domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (u *userTable) setActive(id string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user := u.users[id]
	user.Active = active
	u.users[id] = user
}

func newRelay(t *testing.T, backend *fakeBackend, user *domain.User) (*httptest.Server, *SessionManager, *clientcfg.Config) {
	t.Helper()
	return newRelayWithUsers(t, backend, user, nil)
}

func newRelayWithUsers(t *testing.T, backend *fakeBackend, user *domain.User, users UserLookup) (*httptest.Server, *SessionManager, *clientcfg.Config) {
	t.Helper()
	sm := NewSessionManager()
	var used clientcfg.Config
	h := NewWSHandler(sm, users, clientcfg.Config{APIURL: "http://assistant.test", AssistantID: "agent"},
		func(cfg clientcfg.Config) (Backend, error) {
			used = cfg
			return backend, nil
		}, []string{"http://localhost:5173"}, false)
	h.refreshDelay = 10 * time.Millisecond
	srv := httptest.NewServer(withUser(user, h))
	t.Cleanup(srv.Close)
	return srv, sm, &used
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

// readUntil returns every frame up to and including the first of type want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []Frame {
	t.Helper()
	var frames []Frame
	for {
		f := readFrame(t, conn)
		frames = append(frames, f)
		if f.Type == want {
			return frames
		}
	}
}

func TestWSHandler_RequiresUser(t *testing.T) {
	srv, _, _ := newRelay(t, &fakeBackend{}, nil)
	resp, err := http.Get(srv.URL + "/ws/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	srv, _, _ := newRelay(t, &fakeBackend{}, &domain.User{ID: "u1", Role: domain.RoleUser, Active: true})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSHandler_ChatRoundTrip(t *testing.T) {
	backend := &fakeBackend{reply: "hi from the assistant", threadList: []domain.Thread{{ThreadID: "thread-new"}}}
	user := &domain.User{ID: "u1", Role: domain.RoleUser, Active: true}
	srv, sm, used := newRelay(t, backend, user)

	conn := dial(t, srv, "?assistantId=custom")
	require.Eventually(t, func() bool { return sm.Count("u1") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "custom", used.AssistantID)

	sendFrame(t, conn, Frame{Type: FramePing})
	assert.Equal(t, FramePong, readFrame(t, conn).Type)

	sendFrame(t, conn, Frame{Type: FrameMessage, Content: "hello"})
	frames := readUntil(t, conn, FrameDone)

	var last Frame
	var sawThread bool
	for _, f := range frames {
		switch f.Type {
		case FrameMessages:
			last = f
		case FrameThread:
			sawThread = true
			assert.Equal(t, "thread-new", f.ThreadID)
		}
	}
	assert.True(t, sawThread)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "hi from the assistant", last.Messages[1].Text())

	// The delayed thread refresh may land before or after the done frame.
	threadsFrame, found := Frame{}, false
	for _, f := range frames {
		if f.Type == FrameThreads {
			threadsFrame, found = f, true
		}
	}
	if !found {
		rest := readUntil(t, conn, FrameThreads)
		threadsFrame = rest[len(rest)-1]
	}
	groups := threadsFrame.Groups
	require.Len(t, groups, 1)
	assert.Equal(t, "Today", groups[0].Title)

	sendFrame(t, conn, Frame{Type: FrameMessage, Content: "   "})
	assert.Equal(t, FrameError, readFrame(t, conn).Type)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return sm.Count("u1") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWSHandler_DeactivatedUserLosesConnections(t *testing.T) {
	backend := &fakeBackend{reply: "should not be sent"}
	user := domain.User{ID: "u1", Role: domain.RoleUser, Active: true}
	users := &userTable{users: map[string]domain.User{user.ID: user}}
	srv, sm, _ := newRelayWithUsers(t, backend, &user, users)

	first := dial(t, srv, "")
	second := dial(t, srv, "")
	require.Eventually(t, func() bool { return sm.Count("u1") == 2 }, 2*time.Second, 5*time.Millisecond)

	// Still active: requests go through.
	sendFrame(t, first, Frame{Type: FrameThreads})
	assert.Equal(t, FrameThreads, readFrame(t, first).Type)

	users.setActive("u1", false)
	sendFrame(t, first, Frame{Type: FrameMessage, Content: "hello"})

	var wg sync.WaitGroup
	statuses := make([]websocket.StatusCode, 2)
	for i, conn := range []*websocket.Conn{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _, err := conn.Read(ctx)
			statuses[i] = websocket.CloseStatus(err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []websocket.StatusCode{websocket.StatusPolicyViolation, websocket.StatusPolicyViolation}, statuses)
	require.Eventually(t, func() bool { return sm.Count("u1") == 0 }, 2*time.Second, 5*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.runs)
}
