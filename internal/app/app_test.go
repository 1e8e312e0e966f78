package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
	"sop-platform/pkg/config"
)

const notesProcedure = `
id: notes-demo
name: Notes demo
max_rounds: 10
allowed_tools: [create_note, list_notes]
artifact_tool: create_note
artifact_noun: note
prompts:
  worker_system: "You record findings about {topic}."
  worker_user: "Record one finding about {topic}, then stop."
  manager_guidance: "Round {round}: tell the worker what to do next."
`

type replay struct {
	mu    sync.Mutex
	resps []*llm.Response
	n     int
}

func (r *replay) Invoke(ctx context.Context, msgs []*schema.Message, bound []*schema.ToolInfo) (*llm.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.resps) {
		resp := r.resps[r.n]
		r.n++
		return resp, nil
	}
	r.n++
	return &llm.Response{Content: "done"}, nil
}

func newTestBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte(notesProcedure), 0o644))

	cfg := config.Default()
	cfg.Procedures.Dir = dir
	cfg.Secrets.Provider = "memory"
	cfg.Log.Format = "text"
	cfg.Log.Level = "error"

	b, err := NewBootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func withKey(t *testing.T, b *Bootstrap) {
	t.Helper()
	require.NoError(t, b.Secrets.Set(context.Background(), "openai/api_key", "sk-test"))
}

func TestBootstrap_LoadsCatalog(t *testing.T) {
	b := newTestBootstrap(t)
	defs := b.Catalog.List()
	require.Len(t, defs, 1)
	assert.Equal(t, "notes-demo", defs[0].ID())
	assert.NotNil(t, b.Notes)
	assert.Contains(t, b.Resolvers, "note")
}

func TestRunProcedure_EndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	b := newTestBootstrap(t)
	withKey(t, b)

	worker := &replay{resps: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "create_note", Arguments: `{"title":"finding","content":"go is fast"}`}}},
		{Content: "I saved the finding as a note."},
		{ToolCalls: []llm.ToolCall{{ID: "c2", Name: tools.StopToolName, Arguments: `{"reason":"recorded","success":true}`}}},
		{Content: "Recorded one note."},
	}}
	manager := &replay{resps: []*llm.Response{{Content: "Stop now."}}}
	var seen []llm.Config
	models := []llm.ChatModel{worker, manager}
	b.SetModelFactory(func(ctx context.Context, cfg llm.Config) (llm.ChatModel, error) {
		seen = append(seen, cfg)
		m := models[0]
		models = models[1:]
		return m, nil
	})

	res, err := b.RunProcedure(context.Background(), RunRequest{
		ProcedureID: "notes-demo",
		Context:     map[string]any{"topic": "go"},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"create_note", tools.StopToolName}, res.ToolsUsed)
	assert.Equal(t, "Notes demo finished after 3 round(s): created 1 note(s). Stop reason: recorded.", res.CompletionSummary)
	assert.Equal(t, "Recorded one note.", res.FinalResponse)

	require.Len(t, seen, 2)
	assert.Equal(t, "sk-test", seen[0].APIKey())
	assert.Equal(t, "gpt-4o", seen[0].Model())
	assert.Equal(t, "gpt-4o-mini", seen[1].Model())

	notes, err := b.Notes.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "go is fast", notes[0].Content)

	s, err := b.Sessions.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, recorder.StatusCompleted, s.Status)
	assert.Equal(t, "go", s.Context["topic"])
	assert.Len(t, recorder.Reconstruct(s), 2)
}

func TestRunProcedure_UnknownProcedure(t *testing.T) {
	b := newTestBootstrap(t)
	_, err := b.RunProcedure(context.Background(), RunRequest{ProcedureID: "nope"})
	assert.ErrorIs(t, err, ErrProcedureNotFound)
}

func TestRunProcedure_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	b := newTestBootstrap(t)
	b.SetModelFactory(func(ctx context.Context, cfg llm.Config) (llm.ChatModel, error) {
		t.Fatal("factory must not be called")
		return nil, nil
	})

	res, err := b.RunProcedure(context.Background(), RunRequest{ProcedureID: "notes-demo"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "key not available")
	assert.Contains(t, res.Suggestion, "OPENAI_API_KEY")

	sessions, err := b.Sessions.ListSessions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRunProcedure_UnknownModelProvider(t *testing.T) {
	b := newTestBootstrap(t)
	b.Config.Model.Defaults.Worker = "acme.worker"

	res, err := b.RunProcedure(context.Background(), RunRequest{ProcedureID: "notes-demo"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "acme")
	assert.NotEmpty(t, res.Suggestion)
}

func TestModelConfig_SecretReference(t *testing.T) {
	b := newTestBootstrap(t)
	pc := b.Config.Model.LLM.Providers["openai"]
	pc.APIKey = ""
	pc.APIKeySecret = "team/openai"
	b.Config.Model.LLM.Providers["openai"] = pc
	require.NoError(t, b.Secrets.Set(context.Background(), "team/openai", " sk-team \n"))

	cfg, err := b.ModelConfig(context.Background(), "openai.worker")
	require.NoError(t, err)
	assert.Equal(t, "sk-team", cfg.APIKey())

	_, err = b.ModelConfig(context.Background(), "openai")
	assert.Error(t, err)
}

func TestLookupNoteResolver(t *testing.T) {
	ctx := context.Background()
	b := newTestBootstrap(t)
	n, err := b.Notes.Create(ctx, "Weekly report", "", nil)
	require.NoError(t, err)

	id, err := b.Resolvers["note"].Resolve(ctx, "weekly report")
	require.NoError(t, err)
	assert.Equal(t, n.ID, id)

	_, err = b.Resolvers["note"].Resolve(ctx, "missing")
	assert.Error(t, err)
	require.NoError(t, b.ClearResolvers(ctx))
}

func TestCatalog_MissingDir(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, c.List())
	_, ok := c.Get("x")
	assert.False(t, ok)
}

func TestCatalog_Reload(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Empty(t, c.List())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(notesProcedure), 0o644))
	require.NoError(t, c.Reload())
	_, ok := c.Get("notes-demo")
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: [oops"), 0o644))
	assert.Error(t, c.Reload())
	_, ok = c.Get("notes-demo")
	assert.True(t, ok)
}
