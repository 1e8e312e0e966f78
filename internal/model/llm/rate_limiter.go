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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sop-platform/pkg/config"
)

// DefaultLimit provider 未配置时的限流
var DefaultLimit = config.LLMRateLimitConfig{
	TokensPerMinute:   90000,
	RequestsPerMinute: 500,
	MaxConcurrent:     8,
}

// RateLimiter 按 provider 分桶的请求数 / token / 并发限流
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	defaults config.LLMRateLimitConfig
}

type bucket struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	slots    chan struct{}
	limit    config.LLMRateLimitConfig

	mu          sync.Mutex
	usedTokens  int
	windowStart time.Time
}

// NewRateLimiter 创建限流器；defaults 为 nil 时使用 DefaultLimit
func NewRateLimiter(limits map[string]config.LLMRateLimitConfig, defaults *config.LLMRateLimitConfig) *RateLimiter {
	d := DefaultLimit
	if defaults != nil {
		d = *defaults
	}
	l := &RateLimiter{buckets: make(map[string]*bucket), defaults: d}
	for provider, lim := range limits {
		l.buckets[provider] = newBucket(lim)
	}
	return l
}

func newBucket(lim config.LLMRateLimitConfig) *bucket {
	b := &bucket{limit: lim, windowStart: time.Now()}
	if lim.RequestsPerMinute > 0 {
		burst := int(lim.RequestsPerMinute / 30) // 2 秒配额
		if burst < 1 {
			burst = 1
		}
		b.requests = rate.NewLimiter(rate.Limit(lim.RequestsPerMinute/60), burst)
	}
	if lim.TokensPerMinute > 0 {
		// 单次请求的 token 估算可能超过 2 秒配额，burst 取整分钟配额
		b.tokens = rate.NewLimiter(rate.Limit(float64(lim.TokensPerMinute)/60), lim.TokensPerMinute)
	}
	if lim.MaxConcurrent > 0 {
		b.slots = make(chan struct{}, lim.MaxConcurrent)
	}
	return b
}

func (l *RateLimiter) bucket(provider string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[provider]
	if !ok {
		b = newBucket(l.defaults)
		l.buckets[provider] = b
	}
	return b
}

// Wait 阻塞直到 provider 有请求、token 与并发配额；成功后必须调用 Release
func (l *RateLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	b := l.bucket(provider)
	if b.requests != nil {
		if err := b.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	if b.tokens != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if n > b.tokens.Burst() {
			n = b.tokens.Burst()
		}
		if err := b.tokens.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait failed: %w", err)
		}
	}
	if b.slots != nil {
		select {
		case b.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 归还并发 slot
func (l *RateLimiter) Release(provider string) {
	b := l.bucket(provider)
	if b.slots == nil {
		return
	}
	select {
	case <-b.slots:
	default:
	}
}

// RecordTokenUsage 记录实际 token 用量（按分钟窗口统计）
func (l *RateLimiter) RecordTokenUsage(provider string, tokens int) {
	b := l.bucket(provider)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.Sub(b.windowStart) > time.Minute {
		b.usedTokens = 0
		b.windowStart = now
	}
	b.usedTokens += tokens
}

// Stats provider 当前限流状态
func (l *RateLimiter) Stats(provider string) map[string]interface{} {
	b := l.bucket(provider)
	b.mu.Lock()
	used := b.usedTokens
	b.mu.Unlock()
	stats := map[string]interface{}{
		"requests_per_minute": b.limit.RequestsPerMinute,
		"tokens_per_minute":   b.limit.TokensPerMinute,
		"tokens_used_minute":  used,
		"max_concurrent":      b.limit.MaxConcurrent,
	}
	if b.slots != nil {
		stats["current_concurrent"] = len(b.slots)
	}
	return stats
}
