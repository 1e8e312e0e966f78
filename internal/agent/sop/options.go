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

package sop

import (
	"time"

	"sop-platform/internal/agent/conversation"
	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/model/llm"
	"sop-platform/pkg/log"
)

// DefaultMaxConsecutiveRoundErrors 连续多少轮出错后提前结束循环
const DefaultMaxConsecutiveRoundErrors = 3

// Config 单次运行的限制；零值使用默认
type Config struct {
	MaxRounds                 int // 为 0 时取 procedure 的 max_rounds
	WorkerMaxTokens           int
	ManagerMaxTokens          int
	ToolTimeout               time.Duration
	MaxResultChars            int
	MaxConsecutiveRoundErrors int
}

type options struct {
	recorder      recorder.ChatRecorder
	workerCfg     *llm.Config
	managerCfg    *llm.Config
	runContext    procedure.RunContext
	factory       llm.Factory
	workerFilter  conversation.Filter
	managerFilter conversation.Filter
	logger        *log.Logger
	resolveRules  []procedure.ResolveRule
	resolvers     map[string]*procedure.Resolver
}

// Option RunProcedure 选项
type Option func(*options)

// WithRecorder 设置会话记录器；默认不记录
func WithRecorder(r recorder.ChatRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithWorkerModel worker 模型配置
func WithWorkerModel(cfg llm.Config) Option {
	return func(o *options) { o.workerCfg = &cfg }
}

// WithManagerModel manager 模型配置；未设置时由 worker 配置派生（temperature 0）
func WithManagerModel(cfg llm.Config) Option {
	return func(o *options) { o.managerCfg = &cfg }
}

// WithContext 运行上下文
func WithContext(rc procedure.RunContext) Option {
	return func(o *options) { o.runContext = rc }
}

// WithModelFactory 自定义模型创建；默认 OpenAI 兼容
func WithModelFactory(f llm.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithWorkerFilter 替换 worker 视图
func WithWorkerFilter(f conversation.Filter) Option {
	return func(o *options) { o.workerFilter = f }
}

// WithManagerFilter 替换 manager 视图
func WithManagerFilter(f conversation.Filter) Option {
	return func(o *options) { o.managerFilter = f }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResolvers 运行前按 rules 解析上下文中的标识
func WithResolvers(rules []procedure.ResolveRule, resolvers map[string]*procedure.Resolver) Option {
	return func(o *options) {
		o.resolveRules = rules
		o.resolvers = resolvers
	}
}
