package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeArgs(t *testing.T) {
	search := Schema{
		Type: "object",
		Properties: map[string]Property{
			"query": {Type: "string"},
			"limit": {Type: "integer"},
		},
		Required: []string{"query"},
	}
	single := Schema{Type: "object", Properties: map[string]Property{"title": {Type: "string"}}}
	noProps := Schema{Type: "object"}
	count := Schema{Type: "object", Properties: map[string]Property{"n": {Type: "integer"}}, Required: []string{"n"}}

	tests := []struct {
		name   string
		raw    any
		schema Schema
		want   map[string]any
	}{
		{"nil", nil, search, map[string]any{}},
		{"empty string", "  ", search, map[string]any{}},
		{"object", map[string]any{"query": "a"}, search, map[string]any{"query": "a"}},
		{"string map", map[string]string{"query": "a"}, search, map[string]any{"query": "a"}},
		{"json string", `{"query":"a","limit":2}`, search, map[string]any{"query": "a", "limit": float64(2)}},
		{"raw message", json.RawMessage(`{"query":"b"}`), search, map[string]any{"query": "b"}},
		{"double encoded", `"{\"query\":\"c\"}"`, search, map[string]any{"query": "c"}},
		{"json null", "null", search, map[string]any{}},
		{"bare word to required", "acme", search, map[string]any{"query": "acme"}},
		{"json string scalar", `"acme"`, search, map[string]any{"query": "acme"}},
		{"number to sole property", 42, single, map[string]any{"title": 42}},
		{"numeric text keeps string type", "7", single, map[string]any{"title": "7"}},
		{"bool text keeps string type", "true", search, map[string]any{"query": "true"}},
		{"decoded number for integer param", "7", count, map[string]any{"n": float64(7)}},
		{"no properties falls back to input", true, noProps, map[string]any{"input": true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeArgs(tc.raw, tc.schema)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeArgs_BrokenObject(t *testing.T) {
	_, err := NormalizeArgs(`{"query": `, Schema{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool arguments JSON")
}

func TestPrimaryParam(t *testing.T) {
	assert.Equal(t, "id", PrimaryParam(Schema{Required: []string{"id", "name"}, Properties: map[string]Property{"name": {}, "id": {}}}))
	assert.Equal(t, "only", PrimaryParam(Schema{Properties: map[string]Property{"only": {}}}))
	assert.Equal(t, "input", PrimaryParam(Schema{Properties: map[string]Property{"input": {}, "other": {}}}))
	assert.Equal(t, "query", PrimaryParam(Schema{Properties: map[string]Property{"query": {}, "other": {}}}))
	assert.Equal(t, "input", PrimaryParam(Schema{Properties: map[string]Property{"a": {}, "b": {}}}))
}

func TestParseStopArgs(t *testing.T) {
	reason, ok := ParseStopArgs(`{"reason":"done","success":false}`)
	assert.Equal(t, "done", reason)
	assert.False(t, ok)

	reason, ok = ParseStopArgs("finished")
	assert.Equal(t, "finished", reason)
	assert.True(t, ok)

	_, ok = ParseStopArgs(map[string]any{"reason": "x", "success": "false"})
	assert.False(t, ok)
}
