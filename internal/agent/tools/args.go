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
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeArgs 将模型给出的参数归一化为 map，顺序固定：
//  1. nil / 空字符串 -> {}
//  2. map -> 原样
//  3. string / []byte / json.RawMessage -> JSON 解码；对象直接使用，
//     解出字符串时再解码一次（双重编码），仍为对象则使用
//  4. 其余视为标量，写入主参数（见 PrimaryParam）
func NormalizeArgs(raw any, s Schema) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	case json.RawMessage:
		return normalizeJSON(v, s)
	case []byte:
		return normalizeJSON(v, s)
	case string:
		return normalizeJSON([]byte(v), s)
	default:
		return scalarArgs(v, s), nil
	}
}

func normalizeJSON(b []byte, s Schema) (map[string]any, error) {
	text := strings.TrimSpace(string(b))
	if text == "" {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		if strings.HasPrefix(text, "{") {
			return nil, fmt.Errorf("invalid tool arguments JSON: %w", err)
		}
		// 非 JSON 的裸字符串
		return scalarArgs(text, s), nil
	}
	switch d := decoded.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return d, nil
	case string:
		var inner any
		if err := json.Unmarshal([]byte(d), &inner); err == nil {
			if m, ok := inner.(map[string]any); ok {
				return m, nil
			}
		}
		return scalarArgs(d, s), nil
	default:
		// 主参数声明为 string 时保留原文，"42" / "true" 不转成数字或布尔
		if s.Properties[PrimaryParam(s)].Type == "string" {
			return scalarArgs(text, s), nil
		}
		return scalarArgs(d, s), nil
	}
}

func scalarArgs(v any, s Schema) map[string]any {
	return map[string]any{PrimaryParam(s): v}
}

// PrimaryParam 标量参数落到的参数名：required 第一项 > 唯一属性 > input > query > "input"
func PrimaryParam(s Schema) string {
	if len(s.Required) > 0 {
		return s.Required[0]
	}
	if len(s.Properties) == 1 {
		for name := range s.Properties {
			return name
		}
	}
	if _, ok := s.Properties["input"]; ok {
		return "input"
	}
	if _, ok := s.Properties["query"]; ok {
		return "query"
	}
	return "input"
}
