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

import "github.com/alecthomas/kong"

// CLI 命令行定义
type CLI struct {
	Config string `short:"c" help:"配置文件路径（默认 configs/sop.yaml，不存在时使用内置默认配置）" type:"path"`

	Run        RunCmd        `cmd:"" help:"运行 procedure"`
	Validate   ValidateCmd   `cmd:"" help:"校验 procedure 定义"`
	Serve      ServeCmd      `cmd:"" help:"启动 HTTP API 服务"`
	Procedures ProceduresCmd `cmd:"" help:"列出 API 服务上的 procedure"`
	Sessions   SessionsCmd   `cmd:"" help:"查看 API 服务上的会话记录"`
	Version    VersionCmd    `cmd:"" help:"显示版本"`
}

// RunCmd 本地运行一个 procedure
type RunCmd struct {
	Procedure   string            `arg:"" help:"procedure id"`
	Set         map[string]string `short:"s" help:"上下文 key=value（可重复）"`
	ContextJSON string            `name:"context-json" help:"上下文 JSON 对象，与 --set 合并（--set 优先）"`
	MaxRounds   int               `name:"max-rounds" help:"大于 0 时覆盖轮次上限"`
	Server      bool              `help:"经 API 服务运行而非本地运行"`
	Output      string            `short:"o" enum:"json,summary" default:"summary" help:"输出格式：json 或 summary"`
	Remote      `embed:""`
}

// ValidateCmd 校验目录下全部 procedure 文件
type ValidateCmd struct {
	Dir string `arg:"" optional:"" help:"procedure 目录（默认取配置 procedures.dir）"`
}

// ServeCmd 启动 HTTP API 服务
type ServeCmd struct {
	Addr string `help:"监听地址，默认取配置 api.host:api.port"`
}

// ProceduresCmd 远程列出 procedure
type ProceduresCmd struct {
	Remote `embed:""`
}

// SessionsCmd 远程查看会话
type SessionsCmd struct {
	Remote      `embed:""`
	ID          string `arg:"" optional:"" help:"会话 id；为空时列出会话"`
	ProcedureID string `name:"procedure" help:"按 procedure 过滤"`
	Limit       int    `default:"20" help:"列表条数"`
	Exchanges   bool   `help:"显示重建后的工具调用与结果"`
}

// Remote 访问 API 服务的公共参数
type Remote struct {
	APIURL string `name:"api-url" env:"SOP_API_URL" default:"http://localhost:8080" help:"API 服务地址"`
	Token  string `env:"SOP_API_TOKEN" help:"JWT token（服务开启鉴权时使用）"`
}

// VersionCmd 显示版本
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
