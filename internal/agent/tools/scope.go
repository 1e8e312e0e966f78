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
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// Scope procedure 可见的工具集合：allow-list 与 Registry 的交集，保持 allow-list 顺序
type Scope struct {
	reg   *Registry
	names []string
	set   map[string]struct{}
}

// Scope 创建受限视图；allow-list 中 Registry 没有的工具被忽略
func (r *Registry) Scope(allowed []string) *Scope {
	s := &Scope{reg: r, set: make(map[string]struct{})}
	for _, name := range allowed {
		if _, dup := s.set[name]; dup {
			continue
		}
		if _, ok := r.Get(name); !ok {
			continue
		}
		s.set[name] = struct{}{}
		s.names = append(s.names, name)
	}
	return s
}

// Names 可见工具名
func (s *Scope) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Contains 是否可见
func (s *Scope) Contains(name string) bool {
	_, ok := s.set[name]
	return ok
}

// Descriptors 可见工具描述
func (s *Scope) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(s.names))
	for _, n := range s.names {
		if d, ok := s.reg.Get(n); ok {
			out = append(out, d)
		}
	}
	return out
}

// ToolInfos 转为 eino 工具绑定
func (s *Scope) ToolInfos() []*schema.ToolInfo {
	descs := s.Descriptors()
	out := make([]*schema.ToolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.ToolInfo())
	}
	return out
}

// Call 仅允许调用可见工具；其他名字视为不存在
func (s *Scope) Call(ctx context.Context, name string, args any) Result {
	if !s.Contains(name) {
		return Result{Tool: name, Err: fmt.Errorf("tool not found: %s", name)}
	}
	return s.reg.CallTool(ctx, name, args)
}

// ToolInfo 转为 eino ToolInfo
func (d Descriptor) ToolInfo() *schema.ToolInfo {
	required := make(map[string]bool, len(d.Parameters.Required))
	for _, r := range d.Parameters.Required {
		required[r] = true
	}
	names := make([]string, 0, len(d.Parameters.Properties))
	for n := range d.Parameters.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	params := make(map[string]*schema.ParameterInfo, len(names))
	for _, n := range names {
		p := toParameterInfo(d.Parameters.Properties[n])
		p.Required = required[n]
		params[n] = p
	}
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func toParameterInfo(p Property) *schema.ParameterInfo {
	t := schema.DataType(p.Type)
	if p.Type == "" {
		t = schema.String
	}
	info := &schema.ParameterInfo{Type: t, Desc: p.Description, Enum: p.Enum}
	if p.Items != nil {
		info.ElemInfo = toParameterInfo(*p.Items)
	}
	return info
}
