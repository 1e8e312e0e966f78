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

package redaction

import (
	"fmt"

	"sop-platform/pkg/config"
)

// Policy 脱敏策略
type Policy struct {
	ToolRules   map[string][]FieldMask // tool_name -> field masks
	GlobalRules []FieldMask            // 作用于所有工具与运行上下文
}

// FieldMask 字段掩码
type FieldMask struct {
	FieldPath string // 以 . 分隔，如 "headers.Authorization"
	Mode      Mode
	Salt      string // hash 模式的 salt（可选）
}

// Mode 脱敏模式
type Mode string

const (
	ModeRedact Mode = "redact" // 替换为 ***REDACTED***
	ModeHash   Mode = "hash"   // 替换为 SHA256 hash
	ModeRemove Mode = "remove" // 移除字段
)

// LoadPolicy 由配置构造策略；未启用时返回 nil
func LoadPolicy(cfg config.RedactionConfig) (*Policy, error) {
	if !cfg.Enable {
		return nil, nil
	}
	p := &Policy{ToolRules: map[string][]FieldMask{}}
	for i, r := range cfg.Rules {
		mode := Mode(r.Mode)
		if mode == "" {
			mode = ModeRedact
		}
		switch mode {
		case ModeRedact, ModeHash, ModeRemove:
		default:
			return nil, fmt.Errorf("redaction rule %d: unsupported mode %q", i, r.Mode)
		}
		if r.Path == "" {
			return nil, fmt.Errorf("redaction rule %d: path is required", i)
		}
		m := FieldMask{FieldPath: r.Path, Mode: mode, Salt: r.Salt}
		if r.Tool == "" {
			p.GlobalRules = append(p.GlobalRules, m)
		} else {
			p.ToolRules[r.Tool] = append(p.ToolRules[r.Tool], m)
		}
	}
	return p, nil
}
