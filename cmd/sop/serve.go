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
	"os"
	"os/signal"
	"syscall"
	"time"

	"sop-platform/internal/app"
	"sop-platform/internal/app/api"
)

// Run 启动 API 服务，收到 SIGINT/SIGTERM 后优雅关闭
func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := api.NewApp(b)
	if err != nil {
		_ = b.Close()
		return err
	}
	addr := s.Addr
	if addr == "" {
		addr = api.Addr(cfg)
	}
	return a.Serve(ctx, addr, 30*time.Second)
}
