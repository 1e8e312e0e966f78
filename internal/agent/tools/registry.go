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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sop-platform/pkg/log"
	"sop-platform/pkg/metrics"
	"sop-platform/pkg/tracing"
)

const (
	// DefaultTimeout 单次工具调用上限
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResultChars 工具输出截断阈值
	DefaultMaxResultChars = 20000
)

// ErrDuplicateTool 工具名重复
var ErrDuplicateTool = errors.New("tool already registered")

type entry struct {
	desc   Descriptor
	schema *jsonschema.Schema
}

// Registry 工具注册表
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]*entry
	timeout        time.Duration
	maxResultChars int
	logger         *log.Logger
}

// RegistryOption Registry 配置项
type RegistryOption func(*Registry)

// WithTimeout 设置单次调用超时
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxResultChars 设置输出截断阈值；<=0 表示不截断
func WithMaxResultChars(n int) RegistryOption {
	return func(r *Registry) { r.maxResultChars = n }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry 创建空 Registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:          make(map[string]*entry),
		timeout:        DefaultTimeout,
		maxResultChars: DefaultMaxResultChars,
		logger:         log.Discard(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewRegistryFromProvider 从 Provider 拉取工具并注册；未带实现的描述转发到 provider.CallTool
func NewRegistryFromProvider(ctx context.Context, p Provider, opts ...RegistryOption) (*Registry, error) {
	descs, err := p.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	r := NewRegistry(opts...)
	for _, d := range descs {
		if d.Invoke == nil {
			name := d.Name
			d.Invoke = func(ctx context.Context, args map[string]any) (any, error) {
				return p.CallTool(ctx, name, args)
			}
		}
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册工具并编译参数 schema
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("tool name is required")
	}
	if d.Invoke == nil {
		return fmt.Errorf("tool %s missing implementation", d.Name)
	}
	if d.Parameters.Type == "" {
		d.Parameters.Type = "object"
	}
	s, err := compileSchema(d.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", d.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, d.Name)
	}
	r.tools[d.Name] = &entry{desc: d, schema: s}
	return nil
}

// Get 按名称获取工具描述
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// ListTools 按名称排序返回全部工具
func (r *Registry) ListTools() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names 全部工具名（排序）
func (r *Registry) Names() []string {
	list := r.ListTools()
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// CallTool 归一化参数、校验、在超时内执行并截断输出；失败体现在 Result.Err
func (r *Registry) CallTool(ctx context.Context, name string, args any) Result {
	res := Result{Tool: name}
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		res.Err = fmt.Errorf("tool not found: %s", name)
		metrics.ToolCallsTotal.WithLabelValues(name, "not_found").Inc()
		return res
	}

	normalized, err := NormalizeArgs(args, e.desc.Parameters)
	if err == nil {
		normalized, err = jsonClean(normalized)
	}
	if err != nil {
		res.Err = err
		metrics.ToolCallsTotal.WithLabelValues(name, "invalid_args").Inc()
		return res
	}
	res.Args = normalized
	if err := e.schema.Validate(normalized); err != nil {
		res.Err = fmt.Errorf("tool args schema validation failed: %v", err)
		metrics.ToolCallsTotal.WithLabelValues(name, "invalid_args").Inc()
		return res
	}

	ctx, span := tracing.StartToolSpan(ctx, name)
	start := time.Now()
	v, err := invokeWithTimeout(ctx, r.timeout, e.desc.Invoke, normalized)
	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	tracing.EndSpan(span, err)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", name, "error", err)
		res.Err = err
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		return res
	}
	res.Content = truncateHeadTail(stringify(v), r.maxResultChars)
	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	return res
}

func compileSchema(s Schema) (*jsonschema.Schema, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// jsonClean 经 JSON 往返，使进程内调用方传入的 Go 类型与模型输出一致（数字为 float64）
func jsonClean(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("tool arguments are not JSON-serialisable: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
