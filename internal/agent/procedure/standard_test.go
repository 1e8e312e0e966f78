package procedure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
id: feedback-review
name: Feedback review
max_rounds: 5
allowed_tools: [list_notes, create_note]
artifact_tool: create_note
artifact_noun: note
aliases:
  scorecard: scorecard_name
prompts:
  worker_system: "You review feedback for {account_key}."
  worker_user: "Start with scorecard {scorecard}."
  manager_system: "You manage the review of {account_key}."
  manager_guidance: "Round {round}. Tools so far: {tools_used}. What next?"
models:
  worker: openai.worker
filters:
  worker_max_tokens: 8000
`

func loadSample(t *testing.T) *Standard {
	t.Helper()
	cfg, err := ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)
	std, err := NewStandard(cfg)
	require.NoError(t, err)
	return std
}

func TestStandard_Prompts(t *testing.T) {
	std := loadSample(t)
	rc := RunContext{"account_key": "acme", "scorecard_name": "CS Quality"}

	assert.Equal(t, "You review feedback for acme.", std.SystemPrompt(rc))
	assert.Equal(t, "Start with scorecard CS Quality.", std.UserPrompt(rc))
	assert.Equal(t, "You manage the review of acme.", std.ManagerSystemPrompt(rc))

	st := NewState()
	st.Round = 2
	st.RecordTool("list_notes")
	st.RecordTool("create_note")
	st.RecordTool("list_notes")
	assert.Equal(t, "Round 2. Tools so far: create_note, list_notes. What next?", std.ManagerGuidancePrompt(rc, st))

	// 缺少变量时保留原模板
	assert.Equal(t, "Start with scorecard {scorecard}.", std.UserPrompt(RunContext{}))
	assert.Equal(t, 8000, std.Config().Filters.WorkerMaxTokens)
}

func TestStandard_ShouldContinue(t *testing.T) {
	std := loadSample(t)
	st := NewState()
	for r := 1; r <= 5; r++ {
		st.Round = r
		assert.True(t, std.ShouldContinue(st), "round %d", r)
	}
	st.Round = 6
	assert.False(t, std.ShouldContinue(st))

	st.Round = 1
	st.RequestStop("done", true)
	assert.False(t, std.ShouldContinue(st), "stop wins over rounds left")
}

func TestStandard_CompletionSummary(t *testing.T) {
	std := loadSample(t)
	st := NewState()
	st.Round = 4
	none := std.CompletionSummary(st)
	assert.Equal(t, "Feedback review finished after 4 round(s): no note created.", none)

	st.RecordTool("create_note")
	st.RecordTool("list_notes")
	st.RecordTool("create_note")
	st.RequestStop("all items reviewed", true)
	snap := st.Clone()
	first := std.CompletionSummary(snap)
	assert.Equal(t, "Feedback review finished after 4 round(s): created 2 note(s). Stop reason: all items reviewed.", first)
	assert.Equal(t, first, std.CompletionSummary(snap))
	assert.NotEqual(t, none, first)
}

func TestStandard_Defaults(t *testing.T) {
	std, err := NewStandard(Config{
		ID:      "minimal",
		Prompts: Prompts{WorkerSystem: "s", WorkerUser: "u"},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRounds, std.MaxRounds())
	assert.Empty(t, std.AllowedTools())
	assert.Equal(t, defaultGuidance, std.ManagerGuidancePrompt(nil, NewState()))
	assert.Contains(t, std.CompletionSummary(NewState()), "no artifact created")
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		ID:           "Bad ID",
		MaxRounds:    -1,
		AllowedTools: []string{"a", "a"},
		ArtifactTool: "b",
		Resolve:      []ResolveRule{{Kind: ""}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"id", "worker_system", "worker_user", "max_rounds", "duplicate", "artifact_tool", "resolve[0]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(sampleYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("id: alpha\nprompts:\n  worker_system: s\n  worker_user: u\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].ID())
	assert.Equal(t, "feedback-review", defs[1].ID())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("id: alpha\nprompts:\n  worker_system: s\n  worker_user: u\n"), 0o644))
	_, err = LoadDir(dir)
	assert.Error(t, err)
}

func TestStateClone(t *testing.T) {
	st := NewState()
	st.RecordTool("a")
	st.Extra["k"] = 1
	c := st.Clone()
	st.RecordTool("b")
	st.Extra["k"] = 2
	assert.Equal(t, []string{"a"}, c.ToolsUsed)
	assert.Equal(t, 1, c.Extra["k"])
}
