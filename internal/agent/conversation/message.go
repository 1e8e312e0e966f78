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

package conversation

import (
	"errors"
	"fmt"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool" // 工具结果
)

var (
	// ErrOrphanToolResult 工具结果未对应任何已发出的调用
	ErrOrphanToolResult = errors.New("tool result references no prior tool call")
	// ErrDuplicateToolResult 同一调用已有结果
	ErrDuplicateToolResult = errors.New("tool call already has a result")
)

// ToolCall assistant 消息中的工具调用请求；Arguments 保留模型层原样输出
type ToolCall struct {
	ID        string
	Name      string
	Arguments any
}

// Message 对话消息
type Message struct {
	ID         string
	Role       Role
	Content    string
	ToolCalls  []ToolCall // 仅 assistant
	ToolCallID string     // 仅 tool
	ToolName   string     // 仅 tool
}

// HasToolCalls 是否为带工具调用的 assistant 消息
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// System 构造 system 消息
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User 构造 user 消息
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant 构造 assistant 消息
func Assistant(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult 构造工具结果消息
func ToolResult(callID, toolName, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, ToolName: toolName, Content: content}
}

// History 只追加的对话历史，是 worker / manager 视图的唯一来源
type History struct {
	msgs     []Message
	issued   map[string]bool
	answered map[string]bool
}

// NewHistory 创建空历史
func NewHistory() *History {
	return &History{issued: make(map[string]bool), answered: make(map[string]bool)}
}

// Append 追加消息；工具结果必须对应一个此前发出且尚未回答的调用
func (h *History) Append(msgs ...Message) error {
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("tool call %s has empty id", tc.Name)
				}
				h.issued[tc.ID] = true
			}
		case RoleTool:
			if !h.issued[m.ToolCallID] {
				return fmt.Errorf("%w: %q", ErrOrphanToolResult, m.ToolCallID)
			}
			if h.answered[m.ToolCallID] {
				return fmt.Errorf("%w: %q", ErrDuplicateToolResult, m.ToolCallID)
			}
			h.answered[m.ToolCallID] = true
		}
		h.msgs = append(h.msgs, m)
	}
	return nil
}

// Messages 返回副本
func (h *History) Messages() []Message {
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len 消息数
func (h *History) Len() int { return len(h.msgs) }

// Last 最后一条消息
func (h *History) Last() (Message, bool) {
	if len(h.msgs) == 0 {
		return Message{}, false
	}
	return h.msgs[len(h.msgs)-1], true
}
