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
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultWorkerMaxTokens worker 视图预算
	DefaultWorkerMaxTokens = 50000
	// DefaultManagerMaxTokens manager 视图预算
	DefaultManagerMaxTokens = 2000

	workerTailWindow  = 20
	managerTailWindow = 8
	managerResultLen  = 400
	perMessageTokens  = 4
)

// DefaultManagerSystemPrompt manager 未配置系统提示时使用
const DefaultManagerSystemPrompt = "You are the manager of a standard operating procedure. Read the worker's progress and give the single next instruction. Do not call tools."

// Filter 从完整历史派生受预算约束的视图，不修改 history
type Filter interface {
	Filter(history []Message, maxTokens int, extraSystemPrompt string) []Message
}

// Tokenizer token 计数
type Tokenizer interface {
	Count(text string) (int, error)
}

// EstimateTokenizer 约 4 字符 / token
type EstimateTokenizer struct{}

// Count 估算 token 数
func (EstimateTokenizer) Count(text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

// unit 不可拆分的消息组：带工具调用的 assistant 消息与其结果
type unit []Message

func splitSystem(history []Message) (*Message, []Message) {
	if len(history) > 0 && history[0].Role == RoleSystem {
		sys := history[0]
		return &sys, history[1:]
	}
	return nil, history
}

func groupUnits(msgs []Message) []unit {
	var units []unit
	for i := 0; i < len(msgs); {
		m := msgs[i]
		if !m.HasToolCalls() {
			units = append(units, unit{m})
			i++
			continue
		}
		ids := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			ids[tc.ID] = true
		}
		u := unit{m}
		j := i + 1
		for j < len(msgs) && msgs[j].Role == RoleTool && ids[msgs[j].ToolCallID] {
			u = append(u, msgs[j])
			j++
		}
		units = append(units, u)
		i = j
	}
	return units
}

func messageText(m Message) string {
	var b strings.Builder
	b.WriteString(m.Content)
	for _, tc := range m.ToolCalls {
		b.WriteString(tc.Name)
		b.WriteString(argsString(tc.Arguments))
	}
	return b.String()
}

func countMessages(tok Tokenizer, msgs ...Message) (int, error) {
	total := 0
	for _, m := range msgs {
		n, err := tok.Count(messageText(m))
		if err != nil {
			return 0, err
		}
		total += n + perMessageTokens
	}
	return total, nil
}

// tailUnits 从最新往前取 unit，直到消息数达到 window（至少一个 unit）
func tailUnits(units []unit, window int) []Message {
	start := len(units)
	count := 0
	for start > 0 {
		n := len(units[start-1])
		if count > 0 && count+n > window {
			break
		}
		count += n
		start--
	}
	return flatten(units[start:])
}

func flatten(units []unit) []Message {
	var out []Message
	for _, u := range units {
		out = append(out, u...)
	}
	return out
}

func argsString(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case []byte:
		return string(a)
	case json.RawMessage:
		return string(a)
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Sprint(a)
		}
		return string(b)
	}
}

// WorkerFilter 保留系统提示与工具调用配对，从最旧的 unit 开始裁剪
type WorkerFilter struct {
	Tokenizer  Tokenizer
	MaxTokens  int
	TailWindow int
}

// NewWorkerFilter 使用估算 tokenizer
func NewWorkerFilter(maxTokens int) *WorkerFilter {
	return &WorkerFilter{Tokenizer: EstimateTokenizer{}, MaxTokens: maxTokens}
}

// Filter 实现 Filter
func (f *WorkerFilter) Filter(history []Message, maxTokens int, extraSystemPrompt string) []Message {
	if maxTokens <= 0 {
		maxTokens = f.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultWorkerMaxTokens
	}
	sys, rest := splitSystem(history)
	var head []Message
	if sys != nil {
		head = append(head, *sys)
	}
	if extraSystemPrompt != "" {
		head = append(head, System(extraSystemPrompt))
	}
	units := groupUnits(rest)

	out, err := fitUnits(f.Tokenizer, head, units, maxTokens)
	if err != nil {
		window := f.TailWindow
		if window <= 0 {
			window = workerTailWindow
		}
		return append(head, tailUnits(units, window)...)
	}
	return out
}

func fitUnits(tok Tokenizer, head []Message, units []unit, budget int) ([]Message, error) {
	if tok == nil {
		return nil, fmt.Errorf("no tokenizer")
	}
	used, err := countMessages(tok, head...)
	if err != nil {
		return nil, err
	}
	start := len(units)
	for start > 0 {
		n, err := countMessages(tok, units[start-1]...)
		if err != nil {
			return nil, err
		}
		if start < len(units) && used+n > budget {
			break
		}
		used += n
		start--
	}
	out := make([]Message, 0, len(head))
	out = append(out, head...)
	return append(out, flatten(units[start:])...), nil
}

// ManagerFilter 将历史压缩为一条带角色标注的 user 消息，配上 manager 自己的系统提示
type ManagerFilter struct {
	Tokenizer   Tokenizer
	MaxTokens   int
	TailWindow  int
	ResultChars int
}

// NewManagerFilter 使用估算 tokenizer
func NewManagerFilter(maxTokens int) *ManagerFilter {
	return &ManagerFilter{Tokenizer: EstimateTokenizer{}, MaxTokens: maxTokens}
}

// Filter 实现 Filter；extraSystemPrompt 为 manager 的系统提示
func (f *ManagerFilter) Filter(history []Message, maxTokens int, extraSystemPrompt string) []Message {
	if maxTokens <= 0 {
		maxTokens = f.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultManagerMaxTokens
	}
	if extraSystemPrompt == "" {
		extraSystemPrompt = DefaultManagerSystemPrompt
	}
	resultChars := f.ResultChars
	if resultChars <= 0 {
		resultChars = managerResultLen
	}
	sys := System(extraSystemPrompt)
	lines := condense(history, resultChars)
	if len(lines) == 0 {
		return []Message{sys}
	}

	kept, err := fitLines(f.Tokenizer, sys, lines, maxTokens)
	if err != nil {
		window := f.TailWindow
		if window <= 0 {
			window = managerTailWindow
		}
		if len(lines) > window {
			lines = lines[len(lines)-window:]
		}
		kept = lines
	}
	return []Message{sys, User(transcript(kept))}
}

func transcript(lines []string) string {
	return "Conversation so far:\n" + strings.Join(lines, "\n")
}

func fitLines(tok Tokenizer, sys Message, lines []string, budget int) ([]string, error) {
	if tok == nil {
		return nil, fmt.Errorf("no tokenizer")
	}
	used, err := countMessages(tok, sys, User(transcript(nil)))
	if err != nil {
		return nil, err
	}
	start := len(lines)
	for start > 0 {
		n, err := tok.Count(lines[start-1] + "\n")
		if err != nil {
			return nil, err
		}
		if start < len(lines) && used+n > budget {
			break
		}
		used += n
		start--
	}
	return lines[start:], nil
}

// condense 每条消息一行；worker 的系统消息（包括解释提醒）对 manager 不可见
func condense(history []Message, resultChars int) []string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			lines = append(lines, "USER: "+oneLine(m.Content))
		case RoleAssistant:
			if m.Content != "" {
				lines = append(lines, "WORKER: "+oneLine(m.Content))
			}
			for _, tc := range m.ToolCalls {
				lines = append(lines, fmt.Sprintf("WORKER CALLED: %s(%s)", tc.Name, truncate(argsString(tc.Arguments), resultChars)))
			}
		case RoleTool:
			lines = append(lines, fmt.Sprintf("TOOL %s RESULT: %s", m.ToolName, truncate(oneLine(m.Content), resultChars)))
		}
	}
	return lines
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "...[truncated]"
}
