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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/sop"
	"sop-platform/internal/app"
	"sop-platform/pkg/config"
	"sop-platform/pkg/tracing"
	"sop-platform/pkg/utils"
)

const defaultConfigPath = "configs/sop.yaml"

// loadConfig 读取配置；未指定且默认路径不存在时返回内置默认配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.LoadConfig(path)
}

// runContext 合并 --context-json 与 --set，--set 覆盖同名键
func runContext(raw string, set map[string]string) (procedure.RunContext, error) {
	rc := procedure.RunContext{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rc); err != nil {
			return nil, fmt.Errorf("invalid --context-json: %w", err)
		}
	}
	for k, v := range set {
		rc[k] = v
	}
	return rc, nil
}

// Run 运行 procedure；运行未能开始时退出码为 2
func (r *RunCmd) Run(cli *CLI) error {
	rc, err := runContext(r.ContextJSON, r.Set)
	if err != nil {
		return err
	}
	req := app.RunRequest{ProcedureID: r.Procedure, Context: rc, MaxRounds: r.MaxRounds}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *sop.Result
	if r.Server {
		res, err = newAPIClient(r.Remote).RunProcedure(ctx, req)
	} else {
		res, err = runLocal(ctx, cli.Config, req)
	}
	if err != nil {
		return err
	}
	if err := printResult(os.Stdout, res, r.Output); err != nil {
		return err
	}
	if !res.Success {
		return &exitError{code: 2, err: errors.New(res.Error)}
	}
	return nil
}

func runLocal(ctx context.Context, configPath string, req app.RunRequest) (*sop.Result, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if tc := cfg.Monitoring.Tracing; tc.Enable && tc.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{ServiceName: utils.CoalesceString(tc.ServiceName, "sop-cli"), ExportEndpoint: tc.ExportEndpoint, Insecure: tc.Insecure})
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	b, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.RunProcedure(ctx, req)
}

func printResult(w io.Writer, res *sop.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.Success {
		fmt.Fprintf(w, "Procedure %s could not start: %s\n", res.ProcedureID, res.Error)
		if res.Suggestion != "" {
			fmt.Fprintf(w, "Suggestion: %s\n", res.Suggestion)
		}
		return nil
	}
	fmt.Fprintf(w, "Procedure:  %s\n", res.ProcedureID)
	fmt.Fprintf(w, "Session:    %s\n", res.SessionID)
	fmt.Fprintf(w, "Rounds:     %d\n", res.RoundsCompleted)
	fmt.Fprintf(w, "Tools used: %d\n", len(res.ToolsUsed))
	if res.StopReason != "" {
		fmt.Fprintf(w, "Stopped:    %s\n", res.StopReason)
	}
	if res.CompletionSummary != "" {
		fmt.Fprintf(w, "\n%s\n", res.CompletionSummary)
	}
	if res.FinalResponse != "" {
		fmt.Fprintf(w, "\n%s\n", res.FinalResponse)
	}
	return nil
}
