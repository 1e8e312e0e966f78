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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Model      ModelConfig      `mapstructure:"model"`
	Procedures ProceduresConfig `mapstructure:"procedures"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
	LoginKey      string `mapstructure:"login_key"`       // operator 角色换取 token 的共享密钥
	ViewerKey     string `mapstructure:"viewer_key"`      // viewer（只读）角色的共享密钥，可选
}

// ModelConfig 模型配置；worker 与 manager 各自引用一个 provider.model_key
type ModelConfig struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey       string               `mapstructure:"api_key"`
	APIKeySecret string               `mapstructure:"api_key_secret"` // api_key 为空时从 secrets 读取的 key
	BaseURL      string               `mapstructure:"base_url"`
	Models       map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     string  `mapstructure:"timeout"`
}

// DefaultsConfig 默认模型，格式 provider.model_key
type DefaultsConfig struct {
	Worker  string `mapstructure:"worker"`
	Manager string `mapstructure:"manager"`
}

// ProceduresConfig Procedure 定义目录与全局上限
type ProceduresConfig struct {
	Dir              string `mapstructure:"dir"`
	MaxRounds        int    `mapstructure:"max_rounds"`         // 大于 0 时覆盖各 procedure 的 max_rounds
	WorkerMaxTokens  int    `mapstructure:"worker_max_tokens"`  // worker 视图 token 预算
	ManagerMaxTokens int    `mapstructure:"manager_max_tokens"` // manager 视图 token 预算
}

// RecorderConfig 会话记录存储配置
type RecorderConfig struct {
	Type      string `mapstructure:"type"` // memory | postgres | redis
	DSN       string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
	Addr      string `mapstructure:"addr"` // Redis 地址，type=redis 时使用
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`

	Redaction RedactionConfig `mapstructure:"redaction"`
}

// RedactionConfig 记录前对工具参数与运行上下文脱敏
type RedactionConfig struct {
	Enable bool                  `mapstructure:"enable"`
	Rules  []RedactionRuleConfig `mapstructure:"rules"`
}

// RedactionRuleConfig 单条脱敏规则；Tool 为空时作用于所有工具与运行上下文
type RedactionRuleConfig struct {
	Tool string `mapstructure:"tool"`
	Path string `mapstructure:"path"` // 以 . 分隔的字段路径，如 headers.Authorization
	Mode string `mapstructure:"mode"` // redact | hash | remove
	Salt string `mapstructure:"salt"`
}

// CacheConfig 缓存配置（resolver 记忆化使用）
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"`
}

// SecretsConfig Secret Store 配置
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// ToolsConfig 工具执行配置
type ToolsConfig struct {
	Timeout        string             `mapstructure:"timeout"`          // 单次工具调用超时，如 "30s"
	MaxResultChars int                `mapstructure:"max_result_chars"` // 工具结果截断长度
	HTTP           HTTPToolConfig     `mapstructure:"http"`
	Notes          NotesToolConfig    `mapstructure:"notes"`
	Generate       GenerateToolConfig `mapstructure:"generate"`
}

// HTTPToolConfig 内置 http_request 工具配置
type HTTPToolConfig struct {
	Enable       bool     `mapstructure:"enable"`
	Timeout      string   `mapstructure:"timeout"`
	AllowedHosts []string `mapstructure:"allowed_hosts"` // 空表示不限制
}

// NotesToolConfig 内置笔记工具（create_note / list_notes / get_note），存放在 cache 中
type NotesToolConfig struct {
	Enable bool   `mapstructure:"enable"`
	TTL    string `mapstructure:"ttl"` // 为空表示不过期
}

// GenerateToolConfig 内置 llm_generate 工具
type GenerateToolConfig struct {
	Enable bool   `mapstructure:"enable"`
	Model  string `mapstructure:"model"` // provider.model_key，为空时使用 defaults.worker
}

// RateLimitsConfig 限流配置
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("procedures.dir", "configs/procedures")
	v.SetDefault("procedures.worker_max_tokens", 50000)
	v.SetDefault("procedures.manager_max_tokens", 2000)
	v.SetDefault("recorder.type", "memory")
	v.SetDefault("recorder.key_prefix", "sop")
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("tools.timeout", "30s")
	v.SetDefault("tools.max_result_chars", 20000)
	v.SetDefault("tools.notes.enable", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// Default 无配置文件时的默认配置（仍读取环境变量中的 OPENAI_API_KEY）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	config.Model = ModelConfig{
		LLM: LLMConfig{Providers: map[string]ProviderConfig{
			"openai": {
				APIKey: "${OPENAI_API_KEY}",
				Models: map[string]ModelInfo{
					"worker":  {Name: "gpt-4o", Temperature: 0.3, MaxTokens: 4096},
					"manager": {Name: "gpt-4o-mini", Temperature: 0, MaxTokens: 1024},
				},
			},
		}},
		Defaults: DefaultsConfig{Worker: "openai.worker", Manager: "openai.manager"},
	}
	replaceEnvVars(&config)
	return &config
}

// replaceEnvVars 替换 provider api_key 中的 ${ENV} 引用；环境变量为空时置空，交由启动校验报告缺失
func replaceEnvVars(config *Config) {
	for provider, pc := range config.Model.LLM.Providers {
		if strings.HasPrefix(pc.APIKey, "$") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(pc.APIKey, "}"), "${")
			envVar = strings.TrimPrefix(envVar, "$")
			pc.APIKey = os.Getenv(envVar)
			config.Model.LLM.Providers[provider] = pc
		}
	}
}

// ParseModelKey 解析 provider.model_key
func ParseModelKey(key string) (provider, modelKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("model key 格式应为 provider.model_key，如 openai.worker，当前: %q", key)
	}
	return parts[0], parts[1], nil
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
