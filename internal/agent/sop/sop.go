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

// Package sop SOP Agent：worker 通过受限工具执行操作、manager 给出流程指导的有界循环
package sop

import (
	"context"
	"fmt"
	"strings"

	"sop-platform/internal/agent/conversation"
	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
	pkgerrors "sop-platform/pkg/errors"
	"sop-platform/pkg/log"
	"sop-platform/pkg/metrics"
	"sop-platform/pkg/tracing"
)

// RunProcedure 运行一次 procedure。凭证、模型、工具来源或上下文解析失败时在第一轮之前返回
// Success=false 与修复建议，且不会打开会话；其余情况都返回 Success=true。
func RunProcedure(ctx context.Context, procedureID string, def procedure.Definition, cfg Config, provider tools.Provider, opts ...Option) *Result {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Discard()
	}
	if o.recorder == nil {
		o.recorder = recorder.Nop{}
	}
	if o.factory == nil {
		o.factory = llm.DefaultFactory()
	}
	logger := o.logger.With("procedure", procedureID)

	ctx, span := tracing.StartProcedureSpan(ctx, procedureID)
	r, err := prepare(ctx, procedureID, def, cfg, provider, &o, logger)
	if err != nil {
		tracing.EndSpan(span, err)
		metrics.ProcedureTotal.WithLabelValues(procedureID, "setup_error").Inc()
		if se, ok := pkgerrors.AsSetupError(err); ok {
			logger.Error("procedure setup failed", "error", se.Error())
			return SetupFailure(procedureID, se.Message, se.Suggestion)
		}
		logger.Error("procedure setup failed", "error", err)
		return SetupFailure(procedureID, err.Error(), "")
	}
	res := r.run(ctx)
	tracing.EndSpan(span, nil)
	return res
}

func prepare(ctx context.Context, procedureID string, def procedure.Definition, cfg Config, provider tools.Provider, o *options, logger *log.Logger) (*runner, error) {
	if def == nil {
		return nil, pkgerrors.NewSetupError("procedure definition is missing", "Check the procedure id and the procedures directory.", nil)
	}
	workerCfg := llm.NewConfig()
	if o.workerCfg != nil {
		workerCfg = *o.workerCfg
	}
	managerCfg := llm.NewManagerConfig(
		llm.WithProvider(workerCfg.Provider()),
		llm.WithModel(workerCfg.Model()),
		llm.WithBaseURL(workerCfg.BaseURL()),
		llm.WithAPIKey(workerCfg.APIKey()),
		llm.WithTimeout(workerCfg.Timeout()),
	)
	if o.managerCfg != nil {
		managerCfg = *o.managerCfg
	}
	for _, c := range []struct {
		role string
		cfg  llm.Config
	}{{"worker", workerCfg}, {"manager", managerCfg}} {
		if !c.cfg.HasAPIKey() {
			return nil, pkgerrors.NewSetupError(
				fmt.Sprintf("LLM API key not available for %s model %s/%s", c.role, c.cfg.Provider(), c.cfg.Model()),
				fmt.Sprintf("Set %s_API_KEY in the environment or .env file, or configure model.llm.providers.%s.api_key (or api_key_secret).",
					strings.ToUpper(c.cfg.Provider()), c.cfg.Provider()),
				nil)
		}
	}

	worker, err := o.factory(ctx, workerCfg)
	if err != nil {
		return nil, pkgerrors.NewSetupError("failed to create worker model", "Check model.llm provider settings (base_url, model name).", err)
	}
	manager, err := o.factory(ctx, managerCfg)
	if err != nil {
		return nil, pkgerrors.NewSetupError("failed to create manager model", "Check model.llm provider settings (base_url, model name).", err)
	}

	if provider == nil {
		provider = tools.StaticProvider(nil)
	}
	reg, err := tools.NewRegistryFromProvider(ctx, provider,
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithMaxResultChars(resultChars(cfg.MaxResultChars)),
		tools.WithLogger(logger),
	)
	if err != nil {
		return nil, pkgerrors.NewSetupError("tool provider unavailable", "Check that the tool provider is reachable and its tool schemas are valid.", err)
	}

	rc := procedure.RunContext{}
	if o.runContext != nil {
		rc = o.runContext.Clone()
	}
	if len(o.resolveRules) > 0 {
		rc, err = procedure.ResolveContext(ctx, o.resolveRules, o.resolvers, rc)
		if err != nil {
			return nil, pkgerrors.NewSetupError("failed to resolve run context", "Check the identifiers passed in the run context.", err)
		}
	}

	allowed := make([]string, 0)
	for _, name := range def.AllowedTools() {
		if name != tools.StopToolName {
			allowed = append(allowed, name)
		}
	}
	scope := reg.Scope(allowed)
	infos := append(scope.ToolInfos(), tools.StopTool().ToolInfo())

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		if rl, ok := def.(procedure.RoundLimited); ok && rl.MaxRounds() > 0 {
			maxRounds = rl.MaxRounds()
		} else {
			maxRounds = procedure.DefaultMaxRounds
		}
	}
	maxErrors := cfg.MaxConsecutiveRoundErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxConsecutiveRoundErrors
	}
	workerBudget, managerBudget := cfg.WorkerMaxTokens, cfg.ManagerMaxTokens
	if std, ok := def.(*procedure.Standard); ok {
		if workerBudget <= 0 {
			workerBudget = std.Config().Filters.WorkerMaxTokens
		}
		if managerBudget <= 0 {
			managerBudget = std.Config().Filters.ManagerMaxTokens
		}
	}
	workerFilter := o.workerFilter
	if workerFilter == nil {
		workerFilter = conversation.NewWorkerFilter(workerBudget)
	}
	managerFilter := o.managerFilter
	if managerFilter == nil {
		managerFilter = conversation.NewManagerFilter(managerBudget)
	}

	sessionID, err := o.recorder.StartSession(ctx, procedureID, rc)
	if err != nil {
		return nil, pkgerrors.NewSetupError("failed to start chat session", "Check the recorder store configuration and connectivity.", err)
	}

	logger.Info("procedure prepared",
		"tools", scope.Names(),
		"max_rounds", maxRounds,
		"worker_model", workerCfg.String(),
		"manager_model", managerCfg.String())

	return &runner{
		procedureID:   procedureID,
		def:           def,
		rc:            rc,
		scope:         scope,
		toolInfos:     infos,
		worker:        worker,
		manager:       manager,
		workerCfg:     workerCfg,
		managerCfg:    managerCfg,
		rec:           o.recorder,
		sessionID:     sessionID,
		history:       conversation.NewHistory(),
		state:         procedure.NewState(),
		workerFilter:  workerFilter,
		managerFilter: managerFilter,
		workerBudget:  workerBudget,
		managerBudget: managerBudget,
		maxRounds:     maxRounds,
		maxErrors:     maxErrors,
		logger:        logger,
	}, nil
}

func resultChars(n int) int {
	if n == 0 {
		return tools.DefaultMaxResultChars
	}
	return n
}
