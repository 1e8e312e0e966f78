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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"sop-platform/pkg/config"
)

const redacted = "***REDACTED***"

// Engine 脱敏引擎；nil Engine 原样返回输入
type Engine struct {
	policy *Policy
}

// NewEngine 创建脱敏引擎
func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// FromConfig 由配置创建引擎；未启用时返回 nil
func FromConfig(cfg config.RedactionConfig) (*Engine, error) {
	p, err := LoadPolicy(cfg)
	if err != nil || p == nil {
		return nil, err
	}
	return NewEngine(p), nil
}

// RedactArgs 返回脱敏后的副本，输入不被修改。tool 为空时只应用全局规则
func (e *Engine) RedactArgs(tool string, args map[string]any) map[string]any {
	if e == nil || e.policy == nil || args == nil {
		return args
	}
	rules := append([]FieldMask(nil), e.policy.GlobalRules...)
	if tool != "" {
		rules = append(rules, e.policy.ToolRules[tool]...)
	}
	if len(rules) == 0 {
		return args
	}
	out := deepCopy(args).(map[string]any)
	for _, rule := range rules {
		applyFieldMask(out, rule)
	}
	return out
}

func applyFieldMask(obj map[string]any, mask FieldMask) {
	parts := strings.Split(mask.FieldPath, ".")
	current := obj
	for i := 0; i < len(parts)-1; i++ {
		next, ok := current[parts[i]].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	last := parts[len(parts)-1]
	value, exists := current[last]
	if !exists {
		return
	}
	switch mask.Mode {
	case ModeRedact:
		current[last] = redacted
	case ModeHash:
		current[last] = hashValue(fmt.Sprintf("%v", value), mask.Salt)
	case ModeRemove:
		delete(current, last)
	}
}

func hashValue(value, salt string) string {
	h := sha256.New()
	h.Write([]byte(value))
	if salt != "" {
		h.Write([]byte(salt))
	}
	return "hash:" + hex.EncodeToString(h.Sum(nil))
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}
