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
	"fmt"
	"strings"
)

const defaultGuidance = "Review the worker's progress above and state the single next step of the procedure. If the work is complete, tell the worker to call stop_procedure."

// Standard 由 YAML Config 驱动的 Definition
type Standard struct {
	cfg Config
}

// NewStandard 校验配置并补齐默认值
func NewStandard(cfg Config) (*Standard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.ArtifactNoun == "" {
		cfg.ArtifactNoun = "artifact"
	}
	cfg.AllowedTools = append([]string(nil), cfg.AllowedTools...)
	return &Standard{cfg: cfg}, nil
}

// ID procedure 标识
func (s *Standard) ID() string { return s.cfg.ID }

// Config 配置副本
func (s *Standard) Config() Config { return s.cfg }

// MaxRounds 安全轮次上限
func (s *Standard) MaxRounds() int { return s.cfg.MaxRounds }

func (s *Standard) render(tmpl string, rc RunContext, st *State) string {
	return Render(tmpl, Merge(rc, st), s.cfg.Aliases)
}

// SystemPrompt worker 系统提示
func (s *Standard) SystemPrompt(rc RunContext) string {
	return s.render(s.cfg.Prompts.WorkerSystem, rc, nil)
}

// UserPrompt worker 首条用户消息
func (s *Standard) UserPrompt(rc RunContext) string {
	return s.render(s.cfg.Prompts.WorkerUser, rc, nil)
}

// ManagerSystemPrompt manager 系统提示；为空时由 manager 视图使用默认值
func (s *Standard) ManagerSystemPrompt(rc RunContext) string {
	return s.render(s.cfg.Prompts.ManagerSystem, rc, nil)
}

// ManagerGuidancePrompt 每轮请求 manager 指导的提示
func (s *Standard) ManagerGuidancePrompt(rc RunContext, st *State) string {
	tmpl := s.cfg.Prompts.ManagerGuidance
	if strings.TrimSpace(tmpl) == "" {
		return defaultGuidance
	}
	return s.render(tmpl, rc, st)
}

// AllowedTools worker 工具白名单
func (s *Standard) AllowedTools() []string {
	return append([]string(nil), s.cfg.AllowedTools...)
}

// ShouldContinue 停止标记优先，其次是安全轮次上限
func (s *Standard) ShouldContinue(st *State) bool {
	if st.StopRequested {
		return false
	}
	return st.Round <= s.cfg.MaxRounds
}

// CompletionSummary 按 artifact 工具调用次数生成摘要
func (s *Standard) CompletionSummary(st *State) string {
	name := s.cfg.Name
	if name == "" {
		name = s.cfg.ID
	}
	var b strings.Builder
	n := 0
	if s.cfg.ArtifactTool != "" {
		n = st.Count(s.cfg.ArtifactTool)
	}
	if n == 0 {
		fmt.Fprintf(&b, "%s finished after %d round(s): no %s created.", name, st.Round, s.cfg.ArtifactNoun)
	} else {
		fmt.Fprintf(&b, "%s finished after %d round(s): created %d %s(s).", name, st.Round, n, s.cfg.ArtifactNoun)
	}
	if st.StopReason != "" {
		fmt.Fprintf(&b, " Stop reason: %s.", strings.TrimSuffix(st.StopReason, "."))
	}
	return b.String()
}
