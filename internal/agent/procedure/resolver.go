// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package procedure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sop-platform/internal/storage/cache"
)

// LookupFunc 将用户给出的标识（名称、key、外部 id）解析为规范 id
type LookupFunc func(ctx context.Context, identifier string) (string, error)

// Resolver 带显式缓存的标识解析器；缓存由调用方构造并拥有
type Resolver struct {
	kind   string
	lookup LookupFunc
	store  cache.Store
	ttl    time.Duration
}

// NewResolver 创建解析器；store 为 nil 时使用独立的内存缓存
func NewResolver(kind string, lookup LookupFunc, store cache.Store, ttl time.Duration) *Resolver {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	return &Resolver{kind: kind, lookup: lookup, store: store, ttl: ttl}
}

// Kind 解析类别
func (r *Resolver) Kind() string { return r.kind }

func (r *Resolver) prefix() string { return "resolve:" + r.kind + ":" }

// Resolve 命中缓存直接返回，否则调用 lookup 并写入缓存
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("resolve %s: empty identifier", r.kind)
	}
	key := r.prefix() + identifier
	var id string
	err := r.store.Get(ctx, key, &id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return "", fmt.Errorf("resolve %s cache: %w", r.kind, err)
	}
	id, err = r.lookup(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", r.kind, identifier, err)
	}
	if err := r.store.Set(ctx, key, id, r.ttl); err != nil {
		return "", fmt.Errorf("resolve %s cache: %w", r.kind, err)
	}
	return id, nil
}

// Clear 清除本类别的缓存
func (r *Resolver) Clear(ctx context.Context) error {
	return r.store.DeletePrefix(ctx, r.prefix())
}

// ResolveContext 按 rules 解析上下文中的标识，返回新的 RunContext；To 为空时覆盖 From
func ResolveContext(ctx context.Context, rules []ResolveRule, resolvers map[string]*Resolver, rc RunContext) (RunContext, error) {
	out := rc.Clone()
	for _, rule := range rules {
		raw, ok := rc[rule.From]
		if !ok || raw == nil {
			continue
		}
		ident := strings.TrimSpace(fmt.Sprint(raw))
		if ident == "" {
			continue
		}
		r, ok := resolvers[rule.Kind]
		if !ok || r == nil {
			return nil, fmt.Errorf("no resolver registered for kind %q", rule.Kind)
		}
		id, err := r.Resolve(ctx, ident)
		if err != nil {
			return nil, err
		}
		to := rule.To
		if to == "" {
			to = rule.From
		}
		out[to] = id
	}
	return out, nil
}
