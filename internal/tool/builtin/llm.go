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
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
)

// GenerateToolName 内置生成工具名
const GenerateToolName = "llm_generate"

// GenerateTool 实现 llm_generate：用独立模型完成一次性文本生成，不带工具
type GenerateTool struct {
	model llm.ChatModel
}

// NewGenerateTool 创建 llm_generate 工具
func NewGenerateTool(m llm.ChatModel) *GenerateTool {
	return &GenerateTool{model: m}
}

// Descriptor 工具描述
func (t *GenerateTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        GenerateToolName,
		Description: "Generate text from a prompt with a separate language model, e.g. to draft or rewrite content.",
		Parameters: tools.Schema{
			Type: "object",
			Properties: map[string]tools.Property{
				"prompt":       {Type: "string", Description: "Prompt text"},
				"instructions": {Type: "string", Description: "Optional system instructions"},
			},
			Required: []string{"prompt"},
		},
		Invoke: t.Execute,
	}
}

// Execute 调用模型
func (t *GenerateTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	if t.model == nil {
		return nil, fmt.Errorf("generator not configured")
	}
	prompt, _ := input["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	var msgs []*schema.Message
	if sys, _ := input["instructions"].(string); strings.TrimSpace(sys) != "" {
		msgs = append(msgs, schema.SystemMessage(sys))
	}
	msgs = append(msgs, schema.UserMessage(prompt))
	resp, err := t.model.Invoke(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}
