package conversation

import (
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_PairingIsEnforced(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Append(System("sys"), User("go")))

	err := h.Append(ToolResult("call_1", "create_note", "ok"))
	assert.True(t, errors.Is(err, ErrOrphanToolResult))

	require.NoError(t, h.Append(
		Assistant("", ToolCall{ID: "call_1", Name: "create_note", Arguments: `{"title":"a"}`}),
		ToolResult("call_1", "create_note", "ok"),
	))
	err = h.Append(ToolResult("call_1", "create_note", "again"))
	assert.True(t, errors.Is(err, ErrDuplicateToolResult))

	assert.Error(t, h.Append(Assistant("", ToolCall{Name: "no_id"})))
	assert.Equal(t, 4, h.Len())
}

func TestHistory_MessagesIsCopy(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Append(User("a")))
	msgs := h.Messages()
	msgs[0].Content = "mutated"

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "a", last.Content)
}

func TestToEino(t *testing.T) {
	msgs := ToEino([]Message{
		System("sys"),
		User("hi"),
		Assistant("", ToolCall{ID: "c1", Name: "create_note", Arguments: map[string]any{"title": "x"}}),
		ToolResult("c1", "create_note", "created"),
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "create_note", msgs[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"title":"x"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, schema.Tool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
}
