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

// Render 替换 {name} 占位符；{{ 与 }} 表示字面量花括号。
// 任何占位符无法解析（变量缺失、花括号不成对、名字非法）时原样返回模板。
// aliases 将旧变量名映射到新名，两者解析为同一值。
func Render(tmpl string, vars map[string]any, aliases map[string]string) string {
	out, ok := render(tmpl, vars, aliases)
	if !ok {
		return tmpl
	}
	return out
}

func render(tmpl string, vars map[string]any, aliases map[string]string) (string, bool) {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", false
			}
			name := tmpl[i+1 : i+1+end]
			if !validName(name) {
				return "", false
			}
			v, ok := lookup(vars, aliases, name)
			if !ok {
				return "", false
			}
			b.WriteString(format(v))
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", false
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func lookup(vars map[string]any, aliases map[string]string, name string) (any, bool) {
	if v, ok := lookupPath(vars, name); ok {
		return v, true
	}
	if canonical, ok := aliases[name]; ok && canonical != name {
		return lookupPath(vars, canonical)
	}
	return nil, false
}

// lookupPath 先按完整键查找，再按 a.b 逐级进入嵌套 map
func lookupPath(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var cur any = vars
	for _, p := range parts {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case RunContext:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
