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
	"fmt"
	"time"

	"sop-platform/pkg/config"
)

const (
	defaultProvider = "openai"
	defaultModel    = "gpt-4o"
	defaultTimeout  = 120 * time.Second
)

// Config 模型配置值对象：字段不导出，构造后只读，按值传递
type Config struct {
	provider    string
	model       string
	temperature float32
	maxTokens   int
	baseURL     string
	apiKey      string
	timeout     time.Duration
}

// Option 配置项
type Option func(*Config)

// WithProvider 设置 provider 名称（限流按 provider 分桶）
func WithProvider(p string) Option { return func(c *Config) { c.provider = p } }

// WithModel 设置模型名
func WithModel(m string) Option { return func(c *Config) { c.model = m } }

// WithTemperature 设置采样温度
func WithTemperature(t float32) Option { return func(c *Config) { c.temperature = t } }

// WithMaxTokens 设置单次回复最大 token；0 表示使用服务端默认
func WithMaxTokens(n int) Option { return func(c *Config) { c.maxTokens = n } }

// WithBaseURL 设置 OpenAI 兼容 API 地址
func WithBaseURL(u string) Option { return func(c *Config) { c.baseURL = u } }

// WithAPIKey 设置凭证
func WithAPIKey(k string) Option { return func(c *Config) { c.apiKey = k } }

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.timeout = d } }

// NewConfig 构造 worker 侧默认配置
func NewConfig(opts ...Option) Config {
	c := Config{
		provider:    defaultProvider,
		model:       defaultModel,
		temperature: 0.3,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// NewManagerConfig manager 默认使用确定性采样（temperature 0）
func NewManagerConfig(opts ...Option) Config {
	return NewConfig(append([]Option{WithTemperature(0), WithMaxTokens(1024)}, opts...)...)
}

// With 返回应用 opts 后的副本，原值不变
func (c Config) With(opts ...Option) Config {
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c Config) Provider() string { return c.provider }
func (c Config) Model() string { return c.model }
func (c Config) Temperature() float32 { return c.temperature }
func (c Config) MaxTokens() int { return c.maxTokens }
func (c Config) BaseURL() string { return c.baseURL }
func (c Config) APIKey() string { return c.apiKey }
func (c Config) Timeout() time.Duration { return c.timeout }
func (c Config) HasAPIKey() bool { return c.apiKey != "" }

// String 不输出 apiKey
func (c Config) String() string {
	return fmt.Sprintf("%s/%s(temperature=%.2f, max_tokens=%d)", c.provider, c.model, c.temperature, c.maxTokens)
}

// FromSettings 由 model 配置段与 provider.model_key 构造 Config；apiKey 为已解析的凭证
func FromSettings(mc config.ModelConfig, key string, apiKey string, base ...Option) (Config, error) {
	provider, modelKey, err := config.ParseModelKey(key)
	if err != nil {
		return Config{}, err
	}
	pc, ok := mc.LLM.Providers[provider]
	if !ok {
		return Config{}, fmt.Errorf("LLM provider %q not configured", provider)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return Config{}, fmt.Errorf("LLM model %q not configured in provider %q", modelKey, provider)
	}
	name := mi.Name
	if name == "" {
		name = modelKey
	}
	opts := append([]Option{}, base...)
	opts = append(opts,
		WithProvider(provider),
		WithModel(name),
		WithTemperature(float32(mi.Temperature)),
		WithBaseURL(pc.BaseURL),
		WithAPIKey(apiKey),
		WithTimeout(config.ParseDuration(mi.Timeout, defaultTimeout)),
	)
	if mi.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(mi.MaxTokens))
	}
	return NewConfig(opts...), nil
}
