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

	"github.com/cloudwego/eino-ext/components/model/openai"
)

// NewOpenAIChatModel 创建 OpenAI 兼容的 ChatModel（qwen、deepseek 等通过 base_url 接入）
func NewOpenAIChatModel(ctx context.Context, cfg Config) (ChatModel, error) {
	if !cfg.HasAPIKey() {
		return nil, fmt.Errorf("LLM provider %q api_key not configured", cfg.Provider())
	}
	temp := cfg.Temperature()
	mc := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey(),
		BaseURL:     cfg.BaseURL(),
		Model:       cfg.Model(),
		Temperature: &temp,
		Timeout:     cfg.Timeout(),
	}
	if n := cfg.MaxTokens(); n > 0 {
		mc.MaxTokens = &n
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return NewEinoChatModel(cm, cfg), nil
}

// DefaultFactory 所有 provider 均按 OpenAI 兼容协议创建
func DefaultFactory() Factory {
	return NewOpenAIChatModel
}

// RateLimitedFactory 在 inner 创建的模型外包一层限流
func RateLimitedFactory(inner Factory, limiter *RateLimiter) Factory {
	if limiter == nil {
		return inner
	}
	return func(ctx context.Context, cfg Config) (ChatModel, error) {
		cm, err := inner(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRateLimitedChatModel(cm, cfg, limiter), nil
	}
}
