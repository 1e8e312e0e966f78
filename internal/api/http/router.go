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

package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"sop-platform/internal/api/http/middleware"
	pkgauth "sop-platform/pkg/auth"
)

// Router HTTP 路由
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwt        *jwt.HertzJWTMiddleware
}

// NewRouter 创建路由
func NewRouter(handler *Handler, middleware *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: middleware}
}

// SetJWT 启用 JWT；/api/health、/metrics 与登录接口不鉴权
func (r *Router) SetJWT(m *jwt.HertzJWTMiddleware) {
	r.jwt = m
}

// Build 创建 Hertz 实例并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	h.Use(r.middleware.CORS(), r.middleware.AccessLog())
	r.setupRoutes(h)
	return h
}

func (r *Router) setupRoutes(h *server.Hertz) {
	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	var protected []app.HandlerFunc
	if r.jwt != nil {
		auth := api.Group("/auth")
		auth.POST("/login", r.jwt.LoginHandler)
		auth.POST("/refresh", r.jwt.RefreshHandler)
		protected = append(protected, r.jwt.MiddlewareFunc())
	}

	procedures := api.Group("/procedures", protected...)
	{
		procedures.GET("", r.require(pkgauth.PermissionProcedureView, r.handler.ListProcedures)...)
		procedures.POST("/reload", r.require(pkgauth.PermissionProcedureReload, r.handler.ReloadProcedures)...)
		procedures.GET("/:id", r.require(pkgauth.PermissionProcedureView, r.handler.GetProcedure)...)
		procedures.POST("/:id/run", r.require(pkgauth.PermissionProcedureRun, r.handler.RunProcedure)...)
	}

	sessions := api.Group("/sessions", protected...)
	{
		sessions.GET("", r.require(pkgauth.PermissionSessionView, r.handler.ListSessions)...)
		sessions.GET("/:id", r.require(pkgauth.PermissionSessionView, r.handler.GetSession)...)
		sessions.GET("/:id/exchanges", r.require(pkgauth.PermissionSessionView, r.handler.GetSessionExchanges)...)
	}
}

// require JWT 开启时在 handler 前加入权限校验
func (r *Router) require(p pkgauth.Permission, h app.HandlerFunc) []app.HandlerFunc {
	if r.jwt == nil {
		return []app.HandlerFunc{h}
	}
	return []app.HandlerFunc{middleware.Require(p), h}
}
