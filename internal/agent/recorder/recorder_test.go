package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sop-platform/pkg/config"
	"sop-platform/pkg/redaction"
)

// exerciseStore 各 Store 实现共用的行为检查
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	rec := NewSessionRecorder(store)

	_, err := rec.RecordMessage(ctx, Record{Role: "user", Content: "too early"})
	assert.True(t, errors.Is(err, ErrNoSession))

	id, err := rec.StartSession(ctx, "feedback-review", map[string]any{"account_key": "acme"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "session-"))
	_, err = rec.StartSession(ctx, "feedback-review", nil)
	assert.True(t, errors.Is(err, ErrSessionActive))

	_, err = rec.RecordSystemMessage(ctx, "system prompt")
	require.NoError(t, err)
	callID, err := rec.RecordMessage(ctx, Record{
		Role: "assistant", Type: TypeToolCall, ToolName: "create_note",
		ToolArgs: map[string]any{"title": "x"},
	})
	require.NoError(t, err)
	_, err = rec.RecordMessage(ctx, Record{
		Role: "tool", Type: TypeToolResponse, ToolName: "create_note",
		ToolResult: "created", Content: "created", ParentMessageID: callID,
	})
	require.NoError(t, err)
	pendingID, err := rec.RecordMessage(ctx, Record{Role: "assistant", Type: TypeToolCall, ToolName: "list_notes"})
	require.NoError(t, err)

	require.NoError(t, rec.EndSession(ctx, StatusCompleted, "Feedback review"))
	assert.True(t, errors.Is(rec.EndSession(ctx, StatusCompleted, ""), ErrSessionClosed))
	_, err = rec.RecordMessage(ctx, Record{Role: "user", Content: "late"})
	assert.True(t, errors.Is(err, ErrSessionClosed))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, "Feedback review", sess.Name)
	assert.Equal(t, "acme", sess.Context["account_key"])
	require.Len(t, sess.Entries, 4)
	for i, e := range sess.Entries {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.Equal(t, TypeSystem, sess.Entries[0].Type)

	ex := Reconstruct(sess)
	require.Len(t, ex, 2)
	assert.Equal(t, callID, ex[0].Call.ID)
	require.NotNil(t, ex[0].Response)
	assert.Equal(t, "created", ex[0].Response.ToolResult)
	assert.Equal(t, pendingID, ex[1].Call.ID)
	assert.Nil(t, ex[1].Response)

	list, err := store.ListSessions(ctx, "feedback-review", 10)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, id, list[0].ID)

	_, err = store.GetSession(ctx, "session-missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	exerciseUpdatedAt(t, store)
}

// exerciseUpdatedAt 追加条目后 UpdatedAt 前移到条目时间
func exerciseUpdatedAt(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Millisecond)
	id := fmt.Sprintf("session-touch-%d", created.UnixNano())
	require.NoError(t, store.CreateSession(ctx, &Session{
		ID: id, ProcedureID: "touch", Context: map[string]any{}, Status: StatusActive,
		CreatedAt: created, UpdatedAt: created,
	}))

	appended := created.Add(time.Minute)
	require.NoError(t, store.AppendEntry(ctx, Entry{
		ID: id + "-1", SessionID: id, Seq: 1, Role: "user", Content: "hello",
		Type: TypeMessage, CreatedAt: appended,
	}))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.UpdatedAt.Equal(appended), "updated_at = %s, want %s", sess.UpdatedAt, appended)
	require.Len(t, sess.Entries, 1)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPgStore(t *testing.T) {
	dsn := os.Getenv("TEST_RECORDER_DSN")
	if dsn == "" {
		t.Skip("TEST_RECORDER_DSN not set, skipping Postgres recorder tests")
	}
	store, err := NewPgStore(context.Background(), dsn)
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_RECORDER_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_RECORDER_REDIS_ADDR not set, skipping Redis recorder tests")
	}
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr, KeyPrefix: "soptest-" + t.Name()})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestNop(t *testing.T) {
	var r ChatRecorder = Nop{}
	ctx := context.Background()
	id, err := r.StartSession(ctx, "p", nil)
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, r.EndSession(ctx, StatusCompleted, ""))
	assert.NoError(t, r.EndSession(ctx, StatusCompleted, ""))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(context.Background(), config.RecorderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(context.Background(), config.RecorderConfig{Type: "postgres"})
	assert.Error(t, err)
	_, err = NewStore(context.Background(), config.RecorderConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestReconstruct_IgnoresUnknownParent(t *testing.T) {
	sess := &Session{Entries: []Entry{
		{ID: "a", Type: TypeToolResponse, ParentMessageID: "nope"},
		{ID: "b", Type: TypeMessage},
	}}
	assert.Empty(t, Reconstruct(sess))
	assert.Nil(t, Reconstruct(nil))
}

func TestSessionRecorder_Redacts(t *testing.T) {
	ctx := context.Background()
	engine, err := redaction.FromConfig(config.RedactionConfig{Enable: true, Rules: []config.RedactionRuleConfig{
		{Path: "api_token"},
		{Tool: "http_request", Path: "headers.Authorization"},
	}})
	require.NoError(t, err)

	store := NewMemoryStore()
	rec := NewSessionRecorder(store, WithRedactor(engine))
	rc := map[string]any{"api_token": "t0ps3cret", "ticket": "T-1"}
	id, err := rec.StartSession(ctx, "triage", rc)
	require.NoError(t, err)
	args := map[string]any{"url": "https://x", "headers": map[string]any{"Authorization": "Bearer abc"}}
	_, err = rec.RecordMessage(ctx, Record{Role: "assistant", Type: TypeToolCall, ToolName: "http_request", ToolArgs: args})
	require.NoError(t, err)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "***REDACTED***", sess.Context["api_token"])
	assert.Equal(t, "T-1", sess.Context["ticket"])
	headers := sess.Entries[0].ToolArgs["headers"].(map[string]any)
	assert.Equal(t, "***REDACTED***", headers["Authorization"])
	assert.Equal(t, "t0ps3cret", rc["api_token"], "caller context must not change")
	assert.Equal(t, "Bearer abc", args["headers"].(map[string]any)["Authorization"])
}
