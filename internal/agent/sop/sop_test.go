package sop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
)

type step func(msgs []*schema.Message, bound []*schema.ToolInfo) (*llm.Response, error)

type modelCall struct {
	msgs  []*schema.Message
	tools []string
}

type scriptedModel struct {
	mu       sync.Mutex
	steps    []step
	fallback step
	calls    []modelCall
}

func (m *scriptedModel) Invoke(ctx context.Context, msgs []*schema.Message, bound []*schema.ToolInfo) (*llm.Response, error) {
	m.mu.Lock()
	names := make([]string, 0, len(bound))
	for _, ti := range bound {
		names = append(names, ti.Name)
	}
	i := len(m.calls)
	m.calls = append(m.calls, modelCall{msgs: msgs, tools: names})
	m.mu.Unlock()

	if i < len(m.steps) {
		return m.steps[i](msgs, bound)
	}
	if m.fallback != nil {
		return m.fallback(msgs, bound)
	}
	return &llm.Response{Content: "ok"}, nil
}

func text(s string) step {
	return func([]*schema.Message, []*schema.ToolInfo) (*llm.Response, error) {
		return &llm.Response{Content: s}, nil
	}
}

func call(calls ...llm.ToolCall) step {
	return func([]*schema.Message, []*schema.ToolInfo) (*llm.Response, error) {
		return &llm.Response{ToolCalls: calls}, nil
	}
}

func fail(msg string) step {
	return func([]*schema.Message, []*schema.ToolInfo) (*llm.Response, error) {
		return nil, errors.New(msg)
	}
}

func stopCall(reason string) llm.ToolCall {
	return llm.ToolCall{ID: "call-stop", Name: tools.StopToolName, Arguments: `{"reason":"` + reason + `","success":true}`}
}

func factoryFor(worker, manager llm.ChatModel) llm.Factory {
	n := 0
	return func(ctx context.Context, cfg llm.Config) (llm.ChatModel, error) {
		n++
		if n == 1 {
			return worker, nil
		}
		return manager, nil
	}
}

type notesProvider struct {
	mu    sync.Mutex
	calls map[string]int
}

func newNotesProvider() *notesProvider {
	return &notesProvider{calls: map[string]int{}}
}

func (p *notesProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *notesProvider) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	titled := tools.Schema{
		Type:       "object",
		Properties: map[string]tools.Property{"title": {Type: "string"}},
		Required:   []string{"title"},
	}
	return []tools.Descriptor{
		{Name: "create_note", Description: "Create a note", Parameters: titled},
		{Name: "list_notes", Description: "List notes", Parameters: tools.Schema{Type: "object"}},
		{Name: "delete_all", Description: "Delete every note", Parameters: tools.Schema{Type: "object"}},
	}, nil
}

func (p *notesProvider) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
	return map[string]any{"ok": true, "tool": name}, nil
}

type brokenProvider struct{}

func (brokenProvider) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	return nil, errors.New("connection refused")
}

func (brokenProvider) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return nil, errors.New("unreachable")
}

func newDefinition(t *testing.T, maxRounds int, allowed ...string) *procedure.Standard {
	t.Helper()
	cfg := procedure.Config{
		ID:           "notes",
		Name:         "Notes",
		MaxRounds:    maxRounds,
		AllowedTools: allowed,
		ArtifactNoun: "note",
		Prompts: procedure.Prompts{
			WorkerSystem:    "You write notes about {topic}.",
			WorkerUser:      "Write notes about {topic}.",
			ManagerSystem:   "You supervise a note writer.",
			ManagerGuidance: "Round {round}. Tools used so far: {tools_used}.",
		},
	}
	for _, name := range allowed {
		if name == "create_note" {
			cfg.ArtifactTool = "create_note"
		}
	}
	def, err := procedure.NewStandard(cfg)
	require.NoError(t, err)
	return def
}

func baseOptions(worker, manager *scriptedModel, extra ...Option) []Option {
	opts := []Option{
		WithWorkerModel(llm.NewConfig(llm.WithAPIKey("sk-test"))),
		WithModelFactory(factoryFor(worker, manager)),
		WithContext(procedure.RunContext{"topic": "go"}),
	}
	return append(opts, extra...)
}

func entryTypes(s *recorder.Session) []recorder.MessageType {
	out := make([]recorder.MessageType, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Type
	}
	return out
}

func TestRunProcedure_StopBeforeToolUse(t *testing.T) {
	worker := &scriptedModel{steps: []step{
		text("thinking"),
		text("still thinking"),
		text("almost there"),
		call(stopCall("done")),
		text("final summary"),
	}}
	manager := &scriptedModel{fallback: text("keep going")}
	store := recorder.NewMemoryStore()
	rec := recorder.NewSessionRecorder(store)

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager, WithRecorder(rec))...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{tools.StopToolName}, res.ToolsUsed)
	assert.Equal(t, 4, res.RoundsCompleted)
	assert.Equal(t, "done", res.StopReason)
	assert.Equal(t, "final summary", res.FinalResponse)
	assert.Len(t, manager.calls, 3)
	assert.Contains(t, res.CompletionSummary, "no note created")
	assert.True(t, res.FinalState.StopRequested)

	s, err := store.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, recorder.StatusCompleted, s.Status)
	assert.Equal(t, "notes", s.Name)
}

func TestRunProcedure_MultiToolCollapse(t *testing.T) {
	provider := newNotesProvider()
	worker := &scriptedModel{steps: []step{
		call(
			llm.ToolCall{ID: "c1", Name: "create_note", Arguments: `{"title":"a"}`},
			llm.ToolCall{ID: "c2", Name: "list_notes", Arguments: `{}`},
		),
		text("the note was created"),
		call(stopCall("done")),
	}}
	manager := &scriptedModel{fallback: text("stop when done")}
	store := recorder.NewMemoryStore()

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note", "list_notes"), Config{}, provider,
		baseOptions(worker, manager, WithRecorder(recorder.NewSessionRecorder(store)))...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"create_note", tools.StopToolName}, res.ToolsUsed)
	assert.Equal(t, 1, provider.count("create_note"))
	assert.Equal(t, 0, provider.count("list_notes"))

	// 发给模型的历史中只保留被执行的那一个调用
	for _, m := range worker.calls[1].msgs {
		if m.Role == schema.Assistant {
			require.Len(t, m.ToolCalls, 1)
			assert.Equal(t, "c1", m.ToolCalls[0].ID)
		}
	}

	s, err := store.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []recorder.MessageType{
		recorder.TypeSystem,
		recorder.TypeMessage,
		recorder.TypeToolCall,
		recorder.TypeToolResponse,
		recorder.TypeSystem,
		recorder.TypeMessage,
		recorder.TypeMessage,
		recorder.TypeToolCall,
		recorder.TypeToolResponse,
		recorder.TypeSystem,
		recorder.TypeMessage,
		recorder.TypeMessage,
	}, entryTypes(s))

	exchanges := recorder.Reconstruct(s)
	require.Len(t, exchanges, 2)
	assert.Equal(t, "create_note", exchanges[0].Call.ToolName)
	assert.Equal(t, "a", exchanges[0].Call.ToolArgs["title"])
	require.NotNil(t, exchanges[0].Response)
	assert.Equal(t, exchanges[0].Call.ID, exchanges[0].Response.ParentMessageID)
	assert.Equal(t, tools.StopToolName, exchanges[1].Call.ToolName)
	require.NotNil(t, exchanges[1].Response)
}

func TestRunProcedure_SafetyCeiling(t *testing.T) {
	n := 0
	worker := &scriptedModel{fallback: func(msgs []*schema.Message, bound []*schema.ToolInfo) (*llm.Response, error) {
		if len(bound) == 0 {
			return &llm.Response{Content: "the note is saved"}, nil
		}
		n++
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID: "note-" + strings.Repeat("x", n), Name: "create_note", Arguments: `{"title":"n"}`,
		}}}, nil
	}}
	manager := &scriptedModel{fallback: text("write another note")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 5, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager)...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 5, res.RoundsCompleted)
	assert.Equal(t, "max rounds reached", res.StopReason)
	assert.Equal(t, []string{"create_note", "create_note", "create_note"}, res.ToolsUsed)
	assert.Equal(t, "Notes finished after 5 round(s): created 3 note(s).", res.CompletionSummary)

	// 5 轮加一次总结
	require.Len(t, worker.calls, 6)
	for i, c := range worker.calls[:5] {
		if i%2 == 0 {
			assert.NotEmpty(t, c.tools, "round %d should bind tools", i+1)
		} else {
			assert.Empty(t, c.tools, "round %d should be an explanation turn", i+1)
		}
	}
	assert.Empty(t, worker.calls[5].tools)
	// 只有解释轮之后还有下一轮时才询问 manager
	assert.Len(t, manager.calls, 2)
}

func TestRunProcedure_IgnoresToolCallsInExplanationRound(t *testing.T) {
	provider := newNotesProvider()
	worker := &scriptedModel{steps: []step{
		call(llm.ToolCall{ID: "c1", Name: "create_note", Arguments: `{"title":"a"}`}),
		call(llm.ToolCall{ID: "c2", Name: "create_note", Arguments: `{"title":"b"}`}),
		call(stopCall("done")),
	}}
	manager := &scriptedModel{fallback: text("continue")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, provider,
		baseOptions(worker, manager)...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, provider.count("create_note"))
	assert.Equal(t, []string{"create_note", tools.StopToolName}, res.ToolsUsed)
	assert.Empty(t, worker.calls[1].tools)
}

func TestRunProcedure_ExplanationSurvivesFailedRound(t *testing.T) {
	provider := newNotesProvider()
	worker := &scriptedModel{steps: []step{
		call(llm.ToolCall{ID: "c1", Name: "create_note", Arguments: `{"title":"a"}`}),
		fail("transient"),
		call(llm.ToolCall{ID: "c2", Name: "create_note", Arguments: `{"title":"b"}`}),
		call(stopCall("done")),
	}}
	manager := &scriptedModel{fallback: text("continue")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, provider,
		baseOptions(worker, manager)...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, provider.count("create_note"))
	assert.Equal(t, []string{"create_note", tools.StopToolName}, res.ToolsUsed)
	require.GreaterOrEqual(t, len(worker.calls), 4)
	assert.Empty(t, worker.calls[1].tools)
	assert.Empty(t, worker.calls[2].tools)
	assert.NotEmpty(t, worker.calls[3].tools)
}

func TestRunProcedure_MissingCredential(t *testing.T) {
	store := recorder.NewMemoryStore()
	factory := func(ctx context.Context, cfg llm.Config) (llm.ChatModel, error) {
		t.Fatal("factory must not be called without credentials")
		return nil, nil
	}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		WithWorkerModel(llm.NewConfig()),
		WithModelFactory(factory),
		WithRecorder(recorder.NewSessionRecorder(store)),
	)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "key not available")
	assert.NotEmpty(t, res.Suggestion)
	assert.Equal(t, 0, res.RoundsCompleted)
	assert.Empty(t, res.SessionID)
	assert.NotNil(t, res.ToolsUsed)

	sessions, err := store.ListSessions(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRunProcedure_MissingManagerCredential(t *testing.T) {
	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0), Config{}, nil,
		WithWorkerModel(llm.NewConfig(llm.WithAPIKey("sk-test"))),
		WithManagerModel(llm.NewManagerConfig(llm.WithProvider("anthropic"))),
	)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "manager")
	assert.Contains(t, res.Suggestion, "ANTHROPIC_API_KEY")
}

func TestRunProcedure_ProviderUnavailable(t *testing.T) {
	store := recorder.NewMemoryStore()
	worker, manager := &scriptedModel{}, &scriptedModel{}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0), Config{}, brokenProvider{},
		baseOptions(worker, manager, WithRecorder(recorder.NewSessionRecorder(store)))...)

	assert.False(t, res.Success)
	assert.Equal(t, "tool provider unavailable", res.Error)
	assert.Empty(t, worker.calls)

	sessions, err := store.ListSessions(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRunProcedure_ToolScoping(t *testing.T) {
	provider := newNotesProvider()
	worker := &scriptedModel{steps: []step{
		call(llm.ToolCall{ID: "c1", Name: "delete_all", Arguments: `{}`}),
		text("delete_all is not available"),
		call(stopCall("done")),
	}}
	manager := &scriptedModel{fallback: text("continue")}
	def := newDefinition(t, 0, "list_notes", "create_note", "missing_tool", tools.StopToolName)

	res := RunProcedure(context.Background(), "notes", def, Config{}, provider, baseOptions(worker, manager)...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"list_notes", "create_note", tools.StopToolName}, worker.calls[0].tools)
	for _, c := range worker.calls {
		assert.NotContains(t, c.tools, "delete_all")
		assert.NotContains(t, c.tools, "missing_tool")
	}
	assert.Equal(t, 0, provider.count("delete_all"))
	assert.Equal(t, []string{tools.StopToolName}, res.ToolsUsed)

	var toolResult string
	for _, m := range worker.calls[1].msgs {
		if m.Role == schema.Tool {
			toolResult = m.Content
		}
	}
	assert.Contains(t, toolResult, "tool not found: delete_all")
}

func TestRunProcedure_GeneratesMissingCallID(t *testing.T) {
	worker := &scriptedModel{steps: []step{
		call(llm.ToolCall{Name: "create_note", Arguments: `"first"`}),
		text("created"),
		call(stopCall("done")),
	}}
	manager := &scriptedModel{fallback: text("continue")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager)...)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"create_note", tools.StopToolName}, res.ToolsUsed)

	var callID, resultID string
	for _, m := range worker.calls[1].msgs {
		switch m.Role {
		case schema.Assistant:
			if len(m.ToolCalls) > 0 {
				callID = m.ToolCalls[0].ID
			}
		case schema.Tool:
			resultID = m.ToolCallID
		}
	}
	assert.True(t, strings.HasPrefix(callID, "call_"))
	assert.Equal(t, callID, resultID)
}

func TestRunProcedure_ConsecutiveRoundErrors(t *testing.T) {
	worker := &scriptedModel{
		steps:    []step{fail("boom"), fail("boom"), fail("boom")},
		fallback: text("summary"),
	}
	manager := &scriptedModel{}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager)...)

	require.True(t, res.Success)
	assert.Equal(t, 3, res.RoundsCompleted)
	assert.Equal(t, "stopped after 3 consecutive round errors", res.StopReason)
	assert.Equal(t, "summary", res.FinalResponse)
	assert.Empty(t, res.ToolsUsed)
	assert.Empty(t, manager.calls)
}

func TestRunProcedure_RecoversFromRoundError(t *testing.T) {
	worker := &scriptedModel{steps: []step{
		fail("rate limited"),
		func([]*schema.Message, []*schema.ToolInfo) (*llm.Response, error) { panic("bad response") },
		call(stopCall("done")),
	}}
	manager := &scriptedModel{}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager)...)

	require.True(t, res.Success)
	assert.Equal(t, 3, res.RoundsCompleted)
	assert.Equal(t, []string{tools.StopToolName}, res.ToolsUsed)
	assert.Equal(t, "done", res.StopReason)
}

func TestRunProcedure_ManagerSeesCondensedView(t *testing.T) {
	worker := &scriptedModel{steps: []step{text("I will start"), call(stopCall("done"))}}
	manager := &scriptedModel{fallback: text("create a note")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 0, "create_note"), Config{}, newNotesProvider(),
		baseOptions(worker, manager)...)
	require.True(t, res.Success, res.Error)

	require.Len(t, manager.calls, 1)
	msgs := manager.calls[0].msgs
	require.Len(t, msgs, 3)
	assert.Equal(t, "You supervise a note writer.", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "WORKER: I will start")
	assert.Equal(t, "Round 1. Tools used so far: .", msgs[2].Content)
	assert.Empty(t, manager.calls[0].tools)

	// manager 指导成为 worker 下一轮的 user 消息
	last := worker.calls[1].msgs[len(worker.calls[1].msgs)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Equal(t, "create a note", last.Content)
}

func TestRunProcedure_ConfigMaxRoundsOverridesProcedure(t *testing.T) {
	worker := &scriptedModel{fallback: text("thinking")}
	manager := &scriptedModel{fallback: text("continue")}

	res := RunProcedure(context.Background(), "notes", newDefinition(t, 50, "create_note"), Config{MaxRounds: 2}, newNotesProvider(),
		baseOptions(worker, manager)...)

	require.True(t, res.Success)
	assert.Equal(t, 2, res.RoundsCompleted)
	assert.Len(t, worker.calls, 3)
	assert.Len(t, manager.calls, 1)
}
