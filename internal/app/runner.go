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

package app

import (
	"context"
	"fmt"

	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/sop"
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/tool/builtin"
	"sop-platform/pkg/config"
)

// RunRequest 一次运行请求
type RunRequest struct {
	ProcedureID string               `json:"procedure_id"`
	Context     procedure.RunContext `json:"context,omitempty"`
	MaxRounds   int                  `json:"max_rounds,omitempty"` // 大于 0 时覆盖配置
}

// RunProcedure 按 id 运行 procedure。只有 id 不存在时返回 error；其余失败体现在 Result 中
func (b *Bootstrap) RunProcedure(ctx context.Context, req RunRequest) (*sop.Result, error) {
	def, ok := b.Catalog.Get(req.ProcedureID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, req.ProcedureID)
	}
	pcfg := def.Config()
	logger := b.Logger.With("procedure", req.ProcedureID)

	workerKey, managerKey := b.modelKeys(pcfg.Models.Worker, pcfg.Models.Manager)
	workerCfg, err := b.ModelConfig(ctx, workerKey)
	if err != nil {
		return sop.SetupFailure(req.ProcedureID, fmt.Sprintf("worker model: %v", err),
			"Check model.defaults.worker and model.llm.providers in the config file."), nil
	}
	managerCfg, err := b.ModelConfig(ctx, managerKey)
	if err != nil {
		return sop.SetupFailure(req.ProcedureID, fmt.Sprintf("manager model: %v", err),
			"Check model.defaults.manager and model.llm.providers in the config file."), nil
	}

	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = b.Config.Procedures.MaxRounds
	}
	runCfg := sop.Config{
		MaxRounds:        maxRounds,
		WorkerMaxTokens:  b.Config.Procedures.WorkerMaxTokens,
		ManagerMaxTokens: b.Config.Procedures.ManagerMaxTokens,
		ToolTimeout:      config.ParseDuration(b.Config.Tools.Timeout, tools.DefaultTimeout),
		MaxResultChars:   b.Config.Tools.MaxResultChars,
	}

	return sop.RunProcedure(ctx, req.ProcedureID, def, runCfg, b.ToolProvider(ctx),
		sop.WithRecorder(recorder.NewSessionRecorder(b.Sessions, recorder.WithRedactor(b.Redactor))),
		sop.WithWorkerModel(workerCfg),
		sop.WithManagerModel(managerCfg),
		sop.WithContext(req.Context),
		sop.WithModelFactory(b.factory),
		sop.WithLogger(logger),
		sop.WithResolvers(pcfg.Resolve, b.Resolvers),
	), nil
}

// ToolProvider 按配置装配内置工具；llm_generate 的模型不可用时跳过并记录日志
func (b *Bootstrap) ToolProvider(ctx context.Context) tools.Provider {
	opts := builtin.Options{Notes: b.Notes}
	tc := b.Config.Tools
	if tc.HTTP.Enable {
		opts.HTTP = builtin.NewHTTPTool(config.ParseDuration(tc.HTTP.Timeout, 0), tc.HTTP.AllowedHosts)
	}
	if tc.Generate.Enable {
		key := tc.Generate.Model
		if key == "" {
			key, _ = b.modelKeys("", "")
		}
		cfg, err := b.ModelConfig(ctx, key)
		if err == nil && cfg.HasAPIKey() {
			m, err := b.factory(ctx, cfg)
			if err == nil {
				opts.Generator = m
			} else {
				b.Logger.Warn("llm_generate disabled", "model", key, "error", err)
			}
		} else {
			b.Logger.Warn("llm_generate disabled: model unavailable", "model", key, "error", err)
		}
	}
	return builtin.NewProvider(opts)
}
