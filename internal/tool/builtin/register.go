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

package builtin

import (
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
)

// Options 内置工具装配参数；为 nil 的项不注册
type Options struct {
	HTTP      *HTTPTool
	Notes     *NoteStore
	Generator llm.ChatModel
}

// Descriptors 返回启用的内置工具描述
func Descriptors(opts Options) []tools.Descriptor {
	var out []tools.Descriptor
	if opts.Notes != nil {
		out = append(out, opts.Notes.Descriptors()...)
	}
	if opts.HTTP != nil {
		out = append(out, opts.HTTP.Descriptor())
	}
	if opts.Generator != nil {
		out = append(out, NewGenerateTool(opts.Generator).Descriptor())
	}
	return out
}

// NewProvider 以进程内方式提供内置工具
func NewProvider(opts Options, extra ...tools.Descriptor) tools.StaticProvider {
	return tools.StaticProvider(append(Descriptors(opts), extra...))
}
