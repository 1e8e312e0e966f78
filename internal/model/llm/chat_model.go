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

package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ToolCall 模型请求的一次工具调用；Arguments 为模型原样输出（通常是 JSON 字符串）
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage token 用量
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response 模型回复的固定结构
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// HasToolCalls 是否请求了工具调用
func (r *Response) HasToolCalls() bool { return r != nil && len(r.ToolCalls) > 0 }

// ChatModel LLM 调用能力；tools 为空时不绑定工具
type ChatModel interface {
	Invoke(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*Response, error)
}

// Factory 按配置创建 ChatModel；worker 与 manager 各创建一次
type Factory func(ctx context.Context, cfg Config) (ChatModel, error)

// EinoChatModel 将 eino ToolCallingChatModel 适配为 ChatModel
type EinoChatModel struct {
	inner model.ToolCallingChatModel
	cfg   Config
}

// NewEinoChatModel 包装 eino 模型；cfg 中的采样参数作为每次调用的 option
func NewEinoChatModel(inner model.ToolCallingChatModel, cfg Config) *EinoChatModel {
	return &EinoChatModel{inner: inner, cfg: cfg}
}

// Invoke 调用模型并转换为 Response
func (m *EinoChatModel) Invoke(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*Response, error) {
	cm := m.inner
	if len(tools) > 0 {
		bound, err := m.inner.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		cm = bound
	}
	opts := []model.Option{model.WithTemperature(m.cfg.Temperature())}
	if m.cfg.Model() != "" {
		opts = append(opts, model.WithModel(m.cfg.Model()))
	}
	if m.cfg.MaxTokens() > 0 {
		opts = append(opts, model.WithMaxTokens(m.cfg.MaxTokens()))
	}
	out, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, err
	}
	return FromEinoMessage(out), nil
}

// FromEinoMessage 从 eino 输出消息提取固定字段
func FromEinoMessage(msg *schema.Message) *Response {
	if msg == nil {
		return &Response{}
	}
	resp := &Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if meta := msg.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			resp.Usage = Usage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
				TotalTokens:      meta.Usage.TotalTokens,
			}
		}
	}
	return resp
}
