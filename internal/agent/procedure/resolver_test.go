package procedure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sop-platform/internal/storage/cache"
)

func TestResolver_MemoisesAndClears(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, ident string) (string, error) {
		calls++
		if ident == "unknown" {
			return "", errors.New("no such account")
		}
		return "id-" + ident, nil
	}
	store := cache.NewMemoryStore()
	r := NewResolver("account", lookup, store, time.Minute)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "id-acme", id)
	id, err = r.Resolve(ctx, " acme ")
	require.NoError(t, err)
	assert.Equal(t, "id-acme", id)
	assert.Equal(t, 1, calls)

	_, err = r.Resolve(ctx, "unknown")
	assert.Error(t, err)
	_, err = r.Resolve(ctx, "")
	assert.Error(t, err)

	other := NewResolver("scorecard", lookup, store, time.Minute)
	_, _ = other.Resolve(ctx, "acme")
	require.NoError(t, r.Clear(ctx))
	_, _ = r.Resolve(ctx, "acme")
	assert.Equal(t, 4, calls)

	ok, _ := store.Exists(ctx, "resolve:scorecard:acme")
	assert.True(t, ok, "clearing one kind keeps the others")
}

func TestResolveContext(t *testing.T) {
	resolvers := map[string]*Resolver{
		"account": NewResolver("account", func(ctx context.Context, ident string) (string, error) {
			return "acct-" + ident, nil
		}, nil, 0),
	}
	rc := RunContext{"account_key": "acme", "note": "keep"}
	rules := []ResolveRule{
		{Kind: "account", From: "account_key", To: "account_id"},
		{Kind: "account", From: "absent", To: "x"},
	}
	out, err := ResolveContext(context.Background(), rules, resolvers, rc)
	require.NoError(t, err)
	assert.Equal(t, "acct-acme", out["account_id"])
	assert.Equal(t, "keep", out["note"])
	_, had := rc["account_id"]
	assert.False(t, had, "input context is not modified")

	_, err = ResolveContext(context.Background(), []ResolveRule{{Kind: "report", From: "note"}}, resolvers, rc)
	assert.Error(t, err)
}
