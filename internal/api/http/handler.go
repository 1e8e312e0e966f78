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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/sop"
	sopapp "sop-platform/internal/app"
	"sop-platform/pkg/auth"
	"sop-platform/pkg/log"
	"sop-platform/pkg/metrics"
)

const defaultSessionLimit = 50

// Runner 运行 procedure；由 app.Bootstrap 实现
type Runner interface {
	RunProcedure(ctx context.Context, req sopapp.RunRequest) (*sop.Result, error)
}

// resolverClearer 重新加载定义时需同时失效的解析缓存
type resolverClearer interface {
	ClearResolvers(ctx context.Context) error
}

// Handler HTTP 处理器
type Handler struct {
	runner   Runner
	catalog  *sopapp.Catalog
	sessions recorder.Store
	logger   *log.Logger
}

// NewHandler 创建 HTTP 处理器；任一依赖为 nil 时对应接口返回 503
func NewHandler(runner Runner, catalog *sopapp.Catalog, sessions recorder.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Handler{runner: runner, catalog: catalog, sessions: sessions, logger: logger}
}

// procedureView 列表/详情返回的 procedure 摘要
type procedureView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	MaxRounds    int      `json:"max_rounds"`
	AllowedTools []string `json:"allowed_tools"`
	ArtifactTool string   `json:"artifact_tool,omitempty"`
}

func viewOf(d *procedure.Standard) procedureView {
	cfg := d.Config()
	return procedureView{
		ID:           d.ID(),
		Name:         cfg.Name,
		Description:  cfg.Description,
		MaxRounds:    d.MaxRounds(),
		AllowedTools: d.AllowedTools(),
		ArtifactTool: cfg.ArtifactTool,
	}
}

func unavailable(c *app.RequestContext, what string) {
	c.JSON(consts.StatusServiceUnavailable, utils.H{"error": what + " not configured"})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// ListProcedures GET /api/procedures
func (h *Handler) ListProcedures(ctx context.Context, c *app.RequestContext) {
	if h.catalog == nil {
		unavailable(c, "procedure catalog")
		return
	}
	defs := h.catalog.List()
	out := make([]procedureView, 0, len(defs))
	for _, d := range defs {
		out = append(out, viewOf(d))
	}
	c.JSON(consts.StatusOK, utils.H{"procedures": out, "total": len(out)})
}

// GetProcedure GET /api/procedures/:id
func (h *Handler) GetProcedure(ctx context.Context, c *app.RequestContext) {
	if h.catalog == nil {
		unavailable(c, "procedure catalog")
		return
	}
	d, ok := h.catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(consts.StatusNotFound, utils.H{"error": "procedure not found"})
		return
	}
	c.JSON(consts.StatusOK, viewOf(d))
}

// ReloadProcedures POST /api/procedures/reload
func (h *Handler) ReloadProcedures(ctx context.Context, c *app.RequestContext) {
	if h.catalog == nil {
		unavailable(c, "procedure catalog")
		return
	}
	if err := h.catalog.Reload(); err != nil {
		h.logger.Error("reload procedures failed", "error", err)
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": err.Error()})
		return
	}
	if rc, ok := h.runner.(resolverClearer); ok {
		if err := rc.ClearResolvers(ctx); err != nil {
			h.logger.Warn("clear resolver cache failed", "error", err)
		}
	}
	c.JSON(consts.StatusOK, utils.H{"total": len(h.catalog.List())})
}

type runBody struct {
	Context   map[string]any `json:"context"`
	MaxRounds int            `json:"max_rounds"`
}

// RunProcedure POST /api/procedures/:id/run；运行未能开始时返回 422 与 suggestion
func (h *Handler) RunProcedure(ctx context.Context, c *app.RequestContext) {
	if h.runner == nil {
		unavailable(c, "runner")
		return
	}
	var body runBody
	if raw := bytes.TrimSpace(c.Request.Body()); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	if body.MaxRounds < 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "max_rounds must be >= 0"})
		return
	}
	h.logger.Info("run procedure requested", "procedure", c.Param("id"), "subject", auth.GetSubject(ctx))
	res, err := h.runner.RunProcedure(ctx, sopapp.RunRequest{
		ProcedureID: c.Param("id"),
		Context:     body.Context,
		MaxRounds:   body.MaxRounds,
	})
	if errors.Is(err, sopapp.ErrProcedureNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "procedure not found"})
		return
	}
	if err != nil {
		h.logger.Error("run procedure failed", "procedure", c.Param("id"), "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if !res.Success {
		c.JSON(consts.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// ListSessions GET /api/sessions?procedure_id=&limit=
func (h *Handler) ListSessions(ctx context.Context, c *app.RequestContext) {
	if h.sessions == nil {
		unavailable(c, "session store")
		return
	}
	limit := defaultSessionLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	list, err := h.sessions.ListSessions(ctx, c.Query("procedure_id"), limit)
	if err != nil {
		h.logger.Error("list sessions failed", "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*recorder.Session{}
	}
	c.JSON(consts.StatusOK, utils.H{"sessions": list, "total": len(list)})
}

func (h *Handler) loadSession(ctx context.Context, c *app.RequestContext) (*recorder.Session, bool) {
	if h.sessions == nil {
		unavailable(c, "session store")
		return nil, false
	}
	s, err := h.sessions.GetSession(ctx, c.Param("id"))
	if errors.Is(err, recorder.ErrSessionNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "session not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("get session failed", "session_id", c.Param("id"), "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// GetSession GET /api/sessions/:id
func (h *Handler) GetSession(ctx context.Context, c *app.RequestContext) {
	if s, ok := h.loadSession(ctx, c); ok {
		c.JSON(consts.StatusOK, s)
	}
}

// GetSessionExchanges GET /api/sessions/:id/exchanges：由记录重建的工具调用与结果
func (h *Handler) GetSessionExchanges(ctx context.Context, c *app.RequestContext) {
	s, ok := h.loadSession(ctx, c)
	if !ok {
		return
	}
	ex := recorder.Reconstruct(s)
	if ex == nil {
		ex = []recorder.Exchange{}
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": s.ID, "exchanges": ex})
}

// Metrics GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
