package registry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s, nil), s
}

func input(name, assistantID string) domain.AgentInput {
	return domain.AgentInput{
		DisplayName:      name,
		GraphName:        "graph",
		Category:         "support",
		AssistantID:      assistantID,
		StarterQuestions: []string{"How do I start?"},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestCreateDefaultsActiveAndTrims(t *testing.T) {
	svc, _ := newTestService(t)
	in := input("  Helper  ", " asst-1 ")
	agent, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, agent.Active)
	assert.Equal(t, "Helper", agent.DisplayName)
	assert.Equal(t, "asst-1", agent.AssistantID)
	assert.NotEmpty(t, agent.ID)
}

func TestCreateAggregatesViolations(t *testing.T) {
	svc, _ := newTestService(t)
	in := domain.AgentInput{
		DisplayName:      "   ",
		StarterQuestions: []string{"1", "2", "3", "4", "5", "6", strings.Repeat("x", 151)},
	}
	_, err := svc.Create(context.Background(), in)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"Display name is required",
		"Graph name is required",
		"Category is required",
		"Assistant ID is required",
		"An agent can have a maximum of 6 starter questions",
		"Starter question 7 must be 150 characters or less",
	}, verr.Violations)
}

func TestStarterQuestionLengthCountsCharacters(t *testing.T) {
	svc, _ := newTestService(t)
	in := input("Unicode", "asst-u")
	in.StarterQuestions = []string{strings.Repeat("é", 150)}
	_, err := svc.Create(context.Background(), in)
	assert.NoError(t, err)
}

func TestCreateDuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), input("Same", "a1"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), input("Same", "a2"))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestListNonAdminNeverSeesInactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i, name := range []string{"A", "B", "C"} {
		in := input(name, "asst-"+name)
		in.Active = boolPtr(i != 1)
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListParams{Active: boolPtr(false)}, domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, a := range page.Agents {
		assert.True(t, a.Active)
	}

	page, err = svc.List(ctx, ListParams{Active: boolPtr(false)}, domain.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, page.Agents, 1)
	assert.Equal(t, "B", page.Agents[0].DisplayName)

	page, err = svc.List(ctx, ListParams{}, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestListPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := svc.Create(ctx, input(name, "asst-"+name))
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListParams{Page: 3, Limit: 2}, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 3, page.Page)
	assert.Len(t, page.Agents, 1)

	page, err = svc.List(ctx, ListParams{Page: -1, Limit: 1000}, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Pages)
	assert.Len(t, page.Agents, 5)

	empty, err := NewService(mustEmptyStore(t), nil).List(ctx, ListParams{}, domain.RoleUser)
	require.NoError(t, err)
	assert.NotNil(t, empty.Agents)
	assert.Zero(t, empty.Pages)
}

func mustEmptyStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetByAssistantIDRespectsRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := input("Hidden", "asst-hidden")
	in.Active = boolPtr(false)
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = svc.GetByAssistantID(ctx, "asst-hidden", domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	agent, err := svc.GetByAssistantID(ctx, "asst-hidden", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Hidden", agent.DisplayName)
}

func TestUpdateKeepsActiveWhenOmitted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := input("Keep", "asst-k")
	in.Active = boolPtr(false)
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)

	update := input("Keep renamed", "asst-k")
	updated, err := svc.Update(ctx, created.ID, update)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "Keep renamed", updated.DisplayName)

	update.Active = boolPtr(true)
	updated, err = svc.Update(ctx, created.ID, update)
	require.NoError(t, err)
	assert.True(t, updated.Active)

	_, err = svc.Update(ctx, "missing", update)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Update(ctx, created.ID, domain.AgentInput{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeleteAndToggle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	agent, err := svc.Create(ctx, input("Gone", "asst-g"))
	require.NoError(t, err)

	toggled, err := svc.ToggleActive(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	require.NoError(t, svc.Delete(ctx, agent.ID))
	assert.ErrorIs(t, svc.Delete(ctx, agent.ID), domain.ErrNotFound)
	_, err = svc.Get(ctx, agent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.ToggleActive(ctx, agent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeSource struct {
	raw json.RawMessage
	err error
}

func (f fakeSource) SearchAssistants(context.Context) (json.RawMessage, error) { return f.raw, f.err }

func TestFetchAvailable(t *testing.T) {
	s := mustEmptyStore(t)
	var gotURL, gotKey string
	svc := NewService(s, func(apiURL, apiKey string) (AssistantSource, error) {
		gotURL, gotKey = apiURL, apiKey
		return fakeSource{raw: json.RawMessage(`[{"assistant_id":"x"}]`)}, nil
	})

	raw, err := svc.FetchAvailable(context.Background(), "https://lg.example", "key")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"assistant_id":"x"}]`, string(raw))
	assert.Equal(t, "https://lg.example", gotURL)
	assert.Equal(t, "key", gotKey)

	failing := NewService(s, func(string, string) (AssistantSource, error) {
		return fakeSource{err: &domain.UpstreamError{Op: "search assistants", Status: 401, Body: "unauthorized"}}, nil
	})
	_, err = failing.FetchAvailable(context.Background(), "https://lg.example", "bad")
	assert.ErrorIs(t, err, domain.ErrUpstream)

	_, err = NewService(s, nil).FetchAvailable(context.Background(), "", "")
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))
}
