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
	"time"

	"github.com/cloudwego/eino/schema"

	"sop-platform/pkg/metrics"
)

// RateLimitedChatModel 调用前按 provider 限流，调用后记录实际用量
type RateLimitedChatModel struct {
	inner   ChatModel
	cfg     Config
	limiter *RateLimiter
}

// NewRateLimitedChatModel 包装 ChatModel
func NewRateLimitedChatModel(inner ChatModel, cfg Config, limiter *RateLimiter) *RateLimitedChatModel {
	return &RateLimitedChatModel{inner: inner, cfg: cfg, limiter: limiter}
}

// Invoke 限流后调用 inner
func (c *RateLimitedChatModel) Invoke(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*Response, error) {
	provider := c.cfg.Provider()
	estimated := EstimateTokens(msgs, c.cfg.MaxTokens())
	start := time.Now()
	if err := c.limiter.Wait(ctx, provider, estimated); err != nil {
		return nil, err
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues("llm", provider).Observe(waited.Seconds())
	}
	defer c.limiter.Release(provider)

	resp, err := c.inner.Invoke(ctx, msgs, tools)
	if err != nil {
		return nil, err
	}
	used := resp.Usage.TotalTokens
	if used == 0 {
		used = estimated
	}
	c.limiter.RecordTokenUsage(provider, used)
	if n, ok := c.limiter.Stats(provider)["tokens_used_minute"].(int); ok {
		metrics.RateLimitTokensUsed.WithLabelValues(provider).Set(float64(n))
	}
	return resp, nil
}

// EstimateTokens 约 4 字符 / token，加上回复上限
func EstimateTokens(msgs []*schema.Message, maxTokens int) int {
	chars := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	n := chars / 4
	if maxTokens > 0 {
		n += maxTokens
	}
	if n < 1 {
		n = 1
	}
	return n
}
