package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/agentdesk/internal/chat"
	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/langgraph"
	"github.com/ashureev/agentdesk/internal/threads"
	"github.com/spf13/cobra"
)

const previewLength = 60

// endpointFlags are the shareable settings that take precedence over
// stored configuration, like query parameters in a browser.
type endpointFlags struct {
	apiURL      string
	assistantID string
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiURL, "api-url", "", "assistant API deployment URL")
	cmd.Flags().StringVar(&f.assistantID, "assistant-id", "", "assistant or graph ID")
}

func (f *endpointFlags) state() clientcfg.URLState {
	state := clientcfg.URLState{}
	if f.apiURL != "" {
		state[clientcfg.KeyAPIURL] = f.apiURL
	}
	if f.assistantID != "" {
		state[clientcfg.KeyAssistantID] = f.assistantID
	}
	return state
}

// resolveConfig runs the configuration cascade for the signed-in user, or
// anonymously when no session token is stored.
func resolveConfig(ctx context.Context, storage clientcfg.Storage, state clientcfg.URLState) (clientcfg.Config, error) {
	user := currentUser(ctx, storage)

	res, err := clientcfg.NewResolver(storage, envDefaults()).Resolve(state, user)
	if errors.Is(err, clientcfg.ErrConfigurationRequired) {
		return clientcfg.Config{}, fmt.Errorf("%w: pass --api-url and --assistant-id, or run `agentdeskctl config set`", err)
	}
	if err != nil {
		return clientcfg.Config{}, err
	}
	if missing := clientcfg.Validate(res.Config); len(missing) > 0 {
		return clientcfg.Config{}, fmt.Errorf("missing %s: run `agentdeskctl config set`", strings.Join(missing, ", "))
	}
	return res.Config, nil
}

// signedInClient returns a server client carrying the stored session token,
// or nil when nobody is signed in.
func signedInClient(storage clientcfg.Storage) *serverClient {
	token, ok, err := storage.Get(keyToken)
	if err != nil || !ok || token == "" {
		return nil
	}
	server, _, _ := storage.Get(keyServer)
	if server == "" {
		server = defaultServer
	}
	return newServerClient(server, token)
}

func currentUser(ctx context.Context, storage clientcfg.Storage) *domain.User {
	client := signedInClient(storage)
	if client == nil {
		return nil
	}
	pub, err := client.me(ctx)
	if err != nil {
		slog.Warn("Could not load signed-in user, continuing anonymously", "error", err)
		return nil
	}
	return &domain.User{ID: pub.ID, Username: pub.Username, Name: pub.Name, Role: pub.Role, Active: true}
}

func newChatCmd(opts *options) *cobra.Command {
	var flags endpointFlags
	var threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an assistant in the terminal",
		Long:  "Chat with an assistant in the terminal. Type /quit to leave, or /N to ask starter question N.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(ctx, storage, flags.state())
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			sess, err := chat.Open(cfg, chat.Options{
				Notifier: chat.NotifierFunc(func(title, detail string) {
					fmt.Fprintf(errOut, "warning: %s\n  %s\n", title, detail)
				}),
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			_ = sess.Start(ctx)
			var starters []string
			if threadID != "" {
				if err := sess.Resume(ctx, threadID); err != nil {
					return err
				}
				printTranscript(cmd.OutOrStdout(), sess.Messages())
			} else if client := signedInClient(storage); client != nil {
				agent, err := client.agentByAssistant(ctx, cfg.AssistantID)
				if err != nil {
					slog.Warn("Could not load agent details", "assistant_id", cfg.AssistantID, "error", err)
				}
				if agent != nil {
					printAgentIntro(cmd.OutOrStdout(), agent)
					starters = agent.StarterQuestions
				}
			}
			return chatLoop(ctx, sess, starters, cmd.InOrStdin(), cmd.OutOrStdout(), errOut)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&threadID, "thread", "", "resume an existing thread")

	return cmd
}

// printAgentIntro shows what an agent is for and its numbered starter questions.
func printAgentIntro(w io.Writer, agent *domain.Agent) {
	fmt.Fprintln(w, agent.DisplayName)
	if agent.Description != "" {
		fmt.Fprintln(w, agent.Description)
	}
	if len(agent.StarterQuestions) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, q := range agent.StarterQuestions {
		fmt.Fprintf(w, "  /%d  %s\n", i+1, q)
	}
	fmt.Fprintln(w)
}

// starterQuestion maps "/N" to the Nth starter question.
func starterQuestion(text string, starters []string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	n, err := strconv.Atoi(text[1:])
	if err != nil || n < 1 || n > len(starters) {
		return "", false
	}
	return starters[n-1], true
}

func chatLoop(ctx context.Context, sess *chat.Session, starters []string, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := func() { fmt.Fprint(out, "> ") }

	prompt()
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			prompt()
			continue
		case "/quit", "/exit":
			return nil
		}
		if q, ok := starterQuestion(text, starters); ok {
			fmt.Fprintf(out, "%s\n", q)
			text = q
		}

		hadThread := sess.ThreadID() != ""
		if err := sess.Submit(ctx, text); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(errOut, "error:", err)
			prompt()
			continue
		}
		if !hadThread {
			fmt.Fprintf(errOut, "thread %s\n", sess.ThreadID())
		}
		printReplies(out, sess.Messages())
		prompt()
	}
	return scanner.Err()
}

// printReplies prints everything the assistant said after the last human turn.
func printReplies(w io.Writer, messages []langgraph.Message) {
	last := -1
	for i, m := range messages {
		if m.Type == langgraph.MessageHuman {
			last = i
		}
	}
	for _, m := range messages[last+1:] {
		printMessage(w, m)
	}
}

func printTranscript(w io.Writer, messages []langgraph.Message) {
	for _, m := range messages {
		if m.Type == langgraph.MessageHuman {
			fmt.Fprintf(w, "> %s\n", m.Text())
			continue
		}
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m langgraph.Message) {
	switch m.Type {
	case langgraph.MessageAI:
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(w, "[tool call] %s\n", tc.Name)
		}
		if text := m.Text(); text != "" {
			fmt.Fprintln(w, text)
		}
	case langgraph.MessageTool:
		if !strings.HasPrefix(m.ID, chat.ToolResponsePrefix) {
			fmt.Fprintf(w, "[tool result] %s\n", preview(m.Text()))
		}
	}
}

func newThreadsCmd(opts *options) *cobra.Command {
	var flags endpointFlags

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List past conversations grouped by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd.Context(), storage, flags.state())
			if err != nil {
				return err
			}
			sess, err := chat.Open(cfg, chat.Options{})
			if err != nil {
				return err
			}
			defer sess.Close()

			list, err := sess.Threads(cmd.Context())
			if err != nil {
				return err
			}
			printGroups(cmd.OutOrStdout(), threads.GroupByTime(list, time.Now()))
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func printGroups(w io.Writer, groups []threads.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No threads yet")
		return
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, g.Title)
		for _, t := range g.Threads {
			fmt.Fprintf(w, "  %s  %s\n", t.ThreadID, threadPreview(t))
		}
	}
}

// threadPreview is the first human message of a thread, shortened.
func threadPreview(t domain.Thread) string {
	msgs, _ := t.Values["messages"].([]any)
	for _, raw := range msgs {
		m, ok := raw.(map[string]any)
		if !ok || m["type"] != langgraph.MessageHuman {
			continue
		}
		if s, ok := m["content"].(string); ok {
			return preview(s)
		}
	}
	return ""
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength-1]) + "…"
}
