// Package chat runs conversations against an external assistant API and
// relays them to WebSocket clients.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/langgraph"
	"github.com/google/uuid"
)

const (
	// ThreadRefreshDelay is how long to wait before listing threads after a
	// new one is created; the assistant API indexes new threads lazily.
	ThreadRefreshDelay = 4 * time.Second

	// ToolResponsePrefix marks synthesized tool messages that clients hide.
	ToolResponsePrefix = "do-not-render-"

	toolResponseContent = "Successfully handled tool call."
	refreshTimeout      = 15 * time.Second
	threadListLimit     = 100
)

// Backend is the part of the assistant API a session uses.
type Backend interface {
	Info(ctx context.Context) error
	CreateThread(ctx context.Context, metadata map[string]any) (string, error)
	GetThreadState(ctx context.Context, threadID string) (langgraph.ValuesState, error)
	StreamRun(ctx context.Context, threadID string, in langgraph.RunInput) iter.Seq2[langgraph.StreamEvent, error]
	SearchThreads(ctx context.Context, q langgraph.ThreadSearch) ([]domain.Thread, error)
}

// Notifier surfaces non-fatal problems to the user.
type Notifier interface {
	Warn(title, detail string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, detail string)

// Warn calls f.
func (f NotifierFunc) Warn(title, detail string) { f(title, detail) }

// Options configures callbacks for a session. All fields are optional.
type Options struct {
	Notifier Notifier
	// OnMessages receives a snapshot after every local or streamed change.
	OnMessages func([]langgraph.Message)
	// OnThreads receives the refreshed thread list after a new thread appears.
	OnThreads    func([]domain.Thread)
	RefreshDelay time.Duration
}

// Session is one conversation with an assistant.
type Session struct {
	cfg     clientcfg.Config
	backend Backend
	opts    Options

	mu       sync.Mutex
	threadID string
	messages []langgraph.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session for cfg using backend.
func NewSession(cfg clientcfg.Config, backend Backend, opts Options) *Session {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = ThreadRefreshDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{cfg: cfg, backend: backend, opts: opts, ctx: ctx, cancel: cancel}
}

// Open creates a session talking to the API described by cfg.
func Open(cfg clientcfg.Config, opts Options) (*Session, error) {
	client, err := langgraph.NewClient(langgraph.Config{BaseURL: cfg.APIURL, APIKey: cfg.APIKey})
	if err != nil {
		return nil, err
	}
	return NewSession(cfg, client, opts), nil
}

// Start checks that the assistant API is reachable. Failure is reported to
// the notifier and returned, but the session stays usable.
func (s *Session) Start(ctx context.Context) error {
	if err := s.backend.Info(ctx); err != nil {
		slog.Warn("assistant API health check failed", "api_url", s.cfg.APIURL, "error", err)
		if s.opts.Notifier != nil {
			s.opts.Notifier.Warn("Failed to connect to LangGraph server",
				fmt.Sprintf("Please ensure your graph is running at %s and your API key is correctly set.", s.cfg.APIURL))
		}
		return err
	}
	return nil
}

// Close cancels pending thread refreshes and waits for them.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// ThreadID returns the current thread, or "" before the first message.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []langgraph.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]langgraph.Message(nil), s.messages...)
}

// Resume switches the session to an existing thread and loads its messages.
func (s *Session) Resume(ctx context.Context, threadID string) error {
	st, err := s.backend.GetThreadState(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	s.mu.Lock()
	s.threadID = threadID
	s.messages = st.Messages
	s.mu.Unlock()
	s.publish()
	return nil
}

// Submit sends text as a human message and applies the streamed state until
// the run finishes.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.mu.Lock()
	prior := append([]langgraph.Message(nil), s.messages...)
	threadID := s.threadID
	s.mu.Unlock()

	pending := EnsureToolResponses(prior)
	human := langgraph.Message{ID: uuid.NewString(), Type: langgraph.MessageHuman, Content: text}
	outgoing := append(pending, human)

	s.mu.Lock()
	s.messages = append(prior, outgoing...)
	s.mu.Unlock()
	s.publish()

	// Until the server reports state, a failure drops the optimistic turn.
	reported := false
	fail := func(err error) error {
		if !reported {
			s.mu.Lock()
			s.messages = prior
			s.mu.Unlock()
			s.publish()
		}
		return err
	}

	if threadID == "" {
		id, err := s.backend.CreateThread(ctx, s.threadMetadata())
		if err != nil {
			return fail(fmt.Errorf("create thread: %w", err))
		}
		threadID = id
		s.mu.Lock()
		s.threadID = id
		s.mu.Unlock()
		s.scheduleRefresh()
	}

	in := langgraph.RunInput{
		AssistantID: s.cfg.AssistantID,
		Input:       map[string]any{"messages": outgoing},
		StreamMode:  []string{"values"},
	}
	for ev, err := range s.backend.StreamRun(ctx, threadID, in) {
		if err != nil {
			return fail(fmt.Errorf("stream run: %w", err))
		}
		switch ev.Event {
		case "values":
			st, err := langgraph.DecodeValues(ev.Data)
			if err != nil {
				return fail(err)
			}
			reported = true
			s.mu.Lock()
			s.messages = st.Messages
			s.mu.Unlock()
			s.publish()
		case "error":
			return fail(&domain.UpstreamError{Op: "stream run", Body: string(ev.Data)})
		}
	}
	return nil
}

// Threads lists the threads that belong to the session's assistant.
func (s *Session) Threads(ctx context.Context) ([]domain.Thread, error) {
	return s.backend.SearchThreads(ctx, langgraph.ThreadSearch{Metadata: s.threadMetadata(), Limit: threadListLimit})
}

// threadMetadata tags threads with the assistant they were created for.
// Assistant IDs that are UUIDs are deployed assistants; anything else names
// a graph.
func (s *Session) threadMetadata() map[string]any {
	if s.cfg.AssistantID == "" {
		return nil
	}
	if _, err := uuid.Parse(s.cfg.AssistantID); err == nil {
		return map[string]any{"assistant_id": s.cfg.AssistantID}
	}
	return map[string]any{"graph_id": s.cfg.AssistantID}
}

func (s *Session) publish() {
	if s.opts.OnMessages != nil {
		s.opts.OnMessages(s.Messages())
	}
}

func (s *Session) scheduleRefresh() {
	if s.opts.OnThreads == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.opts.RefreshDelay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
		defer cancel()
		list, err := s.Threads(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("failed to refresh thread list", "error", err)
			}
			return
		}
		s.opts.OnThreads(list)
	}()
}

// EnsureToolResponses returns a synthesized tool message for every tool
// call in messages that is not immediately followed by a tool response.
func EnsureToolResponses(messages []langgraph.Message) []langgraph.Message {
	var out []langgraph.Message
	for i, m := range messages {
		if m.Type != langgraph.MessageAI || len(m.ToolCalls) == 0 {
			continue
		}
		if i+1 < len(messages) && messages[i+1].Type == langgraph.MessageTool {
			continue
		}
		for _, tc := range m.ToolCalls {
			out = append(out, langgraph.Message{
				ID:         ToolResponsePrefix + uuid.NewString(),
				Type:       langgraph.MessageTool,
				Name:       tc.Name,
				ToolCallID: tc.ID,
				Content:    toolResponseContent,
			})
		}
	}
	return out
}
