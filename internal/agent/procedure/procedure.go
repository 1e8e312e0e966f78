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

// Package procedure 定义 SOP 的策略接口（提示词、工具白名单、继续条件、完成摘要）及基于 YAML 的标准实现
package procedure

import (
	"sort"
)

// RunContext 一次运行的上下文变量（如 account_key、report_id）
type RunContext map[string]any

// Clone 浅拷贝
func (rc RunContext) Clone() RunContext {
	out := make(RunContext, len(rc))
	for k, v := range rc {
		out[k] = v
	}
	return out
}

// State 单次运行的可变状态，由编排器在轮次之间修改
type State struct {
	Round         int            `json:"round"`
	ToolsUsed     []string       `json:"tools_used"`
	StopRequested bool           `json:"stop_requested"`
	StopReason    string         `json:"stop_reason,omitempty"`
	StopSuccess   bool           `json:"stop_success"`
	Extra         map[string]any `json:"extra,omitempty"` // procedure 自定义字段
}

// NewState 初始状态
func NewState() *State {
	return &State{Extra: make(map[string]any)}
}

// RecordTool 记入已使用工具
func (s *State) RecordTool(name string) {
	s.ToolsUsed = append(s.ToolsUsed, name)
}

// Count 工具被使用的次数
func (s *State) Count(name string) int {
	n := 0
	for _, t := range s.ToolsUsed {
		if t == name {
			n++
		}
	}
	return n
}

// RequestStop 由 stop_procedure 触发
func (s *State) RequestStop(reason string, success bool) {
	s.StopRequested = true
	s.StopReason = reason
	s.StopSuccess = success
}

// Clone 深拷贝，用于摘要与返回结果
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	c.Extra = make(map[string]any, len(s.Extra))
	for k, v := range s.Extra {
		c.Extra[k] = v
	}
	return &c
}

// Vars 模板可引用的状态变量
func (s *State) Vars() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	uniq := map[string]struct{}{}
	for _, t := range s.ToolsUsed {
		uniq[t] = struct{}{}
	}
	distinct := make([]string, 0, len(uniq))
	for t := range uniq {
		distinct = append(distinct, t)
	}
	sort.Strings(distinct)
	vars := map[string]any{
		"round":            s.Round,
		"tools_used":       distinct,
		"tools_used_count": len(s.ToolsUsed),
		"stop_requested":   s.StopRequested,
		"stop_reason":      s.StopReason,
	}
	for k, v := range s.Extra {
		vars[k] = v
	}
	return vars
}

// Merge 合并上下文与状态变量；状态变量覆盖同名上下文
func Merge(rc RunContext, st *State) map[string]any {
	vars := make(map[string]any, len(rc)+8)
	for k, v := range rc {
		vars[k] = v
	}
	if st != nil {
		for k, v := range st.Vars() {
			vars[k] = v
		}
	}
	return vars
}

// Definition procedure 策略；全部为 (context, state) 的纯函数
type Definition interface {
	SystemPrompt(rc RunContext) string
	UserPrompt(rc RunContext) string
	ManagerSystemPrompt(rc RunContext) string
	ManagerGuidancePrompt(rc RunContext, st *State) string
	AllowedTools() []string
	ShouldContinue(st *State) bool
	CompletionSummary(st *State) string
}

// RoundLimited 可选接口：暴露安全轮次上限，编排器据此设置硬上限
type RoundLimited interface {
	MaxRounds() int
}

// DefaultMaxRounds 未配置时的安全轮次上限
const DefaultMaxRounds = 500
