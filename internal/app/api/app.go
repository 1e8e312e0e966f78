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

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"sop-platform/internal/api/http"
	"sop-platform/internal/api/http/middleware"
	"sop-platform/internal/app"
	"sop-platform/pkg/auth"
	"sop-platform/pkg/config"
	"sop-platform/pkg/log"
	"sop-platform/pkg/secrets"
	"sop-platform/pkg/utils"
)

// App HTTP 服务：procedure 目录、运行与会话查询
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider provider.OtelProvider
}

// NewApp 创建 API 应用；api.middleware.auth 开启时挂载 JWT
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil {
		return nil, errors.New("bootstrap is nil")
	}
	handler := http.NewHandler(bootstrap, bootstrap.Catalog, bootstrap.Sessions, bootstrap.Logger)
	router := http.NewRouter(handler, middleware.NewMiddleware(bootstrap.Logger))

	mw := bootstrap.Config.API.Middleware
	if mw.Auth {
		ctx := context.Background()
		signingKey, err := secretOr(ctx, bootstrap.Secrets, mw.JWTKey, "api/jwt_key")
		if err != nil {
			return nil, fmt.Errorf("jwt signing key: %w", err)
		}
		loginKey, err := secretOr(ctx, bootstrap.Secrets, mw.LoginKey, "api/login_key")
		if err != nil {
			return nil, fmt.Errorf("jwt login key: %w", err)
		}
		viewerKey, err := secretOr(ctx, bootstrap.Secrets, mw.ViewerKey, "api/viewer_key")
		if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, fmt.Errorf("jwt viewer key: %w", err)
		}
		keys := map[auth.Role]string{auth.RoleOperator: loginKey, auth.RoleViewer: viewerKey}
		jwtAuth, err := middleware.NewJWTAuth([]byte(signingKey), keys,
			config.ParseDuration(mw.JWTTimeout, time.Hour),
			config.ParseDuration(mw.JWTMaxRefresh, time.Hour))
		if err != nil {
			return nil, fmt.Errorf("初始化 JWT 失败: %w", err)
		}
		router.SetJWT(jwtAuth)
		bootstrap.Logger.Info("JWT 鉴权已启用")
	}

	return &App{bootstrap: bootstrap, router: router}, nil
}

// secretOr 配置值非空时直接使用，否则从 secrets 读取 key
func secretOr(ctx context.Context, store secrets.Store, value, key string) (string, error) {
	if value != "" {
		return value, nil
	}
	return secrets.Lookup(ctx, store, key)
}

// Addr 由 api.host / api.port 组成监听地址
func Addr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.API.Host, utils.DefaultInt(cfg.API.Port, 8080))
}

// Build 创建 Hertz 实例；tracing 开启且有导出地址时挂载 OpenTelemetry
func (a *App) Build(addr string) *server.Hertz {
	cfg := a.bootstrap.Config
	tc := cfg.Monitoring.Tracing
	endpoint := utils.CoalesceString(tc.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if !tc.Enable || endpoint == "" {
		a.hertz = a.router.Build(addr)
		return a.hertz
	}

	serviceName := utils.CoalesceString(tc.ServiceName, "sop-api")
	opts := []provider.Option{
		provider.WithServiceName(serviceName),
		provider.WithExportEndpoint(endpoint),
	}
	if tc.Insecure {
		opts = append(opts, provider.WithInsecure())
	}
	a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
	tracerOpt, tcfg := hertztracing.NewServerTracer()
	a.hertz = a.router.Build(addr, tracerOpt)
	a.hertz.Use(hertztracing.ServerMiddleware(tcfg))
	a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
	return a.hertz
}

// Run 启动 HTTP 服务并阻塞，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr, "procedures", len(a.bootstrap.Catalog.List()))

	output := os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	if a.hertz == nil {
		a.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return a.bootstrap.Close()
}

// Serve 运行服务直到 ctx 结束，随后在 timeout 内优雅关闭
func (a *App) Serve(ctx context.Context, addr string, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(addr) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.bootstrap.Logger.Info("API 服务关闭中")
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Shutdown(sctx)
}
