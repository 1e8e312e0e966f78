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

// Package tools 工具注册表与调用适配：参数归一化、schema 校验、超时隔离、按 procedure 限定可见工具
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Property 单个参数描述
type Property struct {
	Type        string    `json:"type,omitempty"` // string | number | integer | boolean | object | array
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema 工具参数 JSON schema（object）
type Schema struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// Func 工具实现；args 已归一化并通过 schema 校验
type Func func(ctx context.Context, args map[string]any) (any, error)

// Descriptor 工具描述；名称在一个 Registry 内唯一
type Descriptor struct {
	Name        string
	Description string
	Parameters  Schema
	Invoke      Func
}

// Provider 工具来源；进程内与远程实现均可
type Provider interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// StaticProvider 进程内工具集合
type StaticProvider []Descriptor

// ListTools 返回全部描述
func (p StaticProvider) ListTools(ctx context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, len(p))
	copy(out, p)
	return out, nil
}

// CallTool 直接调用对应描述的 Invoke
func (p StaticProvider) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	for _, d := range p {
		if d.Name == name {
			if d.Invoke == nil {
				return nil, fmt.Errorf("tool %s has no implementation", name)
			}
			return d.Invoke(ctx, args)
		}
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

// Result 工具调用结果；失败不返回 error，Err 通过 Text 渲染为结构化文本回填到对话
type Result struct {
	Tool    string
	Args    map[string]any
	Content string
	Err     error
}

// OK 调用是否成功
func (r Result) OK() bool { return r.Err == nil }

// Text 写入对话的文本
func (r Result) Text() string {
	if r.Err == nil {
		return r.Content
	}
	b, _ := json.Marshal(map[string]string{"error": r.Err.Error(), "tool": r.Tool})
	return string(b)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
