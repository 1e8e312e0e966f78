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
	"errors"
	"fmt"
	"strings"

	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/model/llm"
	"sop-platform/internal/storage/cache"
	"sop-platform/internal/tool/builtin"
	"sop-platform/pkg/config"
	"sop-platform/pkg/log"
	"sop-platform/pkg/redaction"
	"sop-platform/pkg/secrets"
)

// Bootstrap 统一初始化：供 CLI 与 HTTP 服务复用
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	Secrets   secrets.Store
	Cache     cache.Store
	Sessions  recorder.Store
	Redactor  *redaction.Engine
	Limiter   *llm.RateLimiter
	Notes     *builtin.NoteStore
	Catalog   *Catalog
	Resolvers map[string]*procedure.Resolver

	factory llm.Factory
}

// NewBootstrap 根据配置创建 Bootstrap（日志/密钥/缓存/会话存储/限流/procedure 目录）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	redactor, err := redaction.FromConfig(cfg.Recorder.Redaction)
	if err != nil {
		return nil, fmt.Errorf("初始化脱敏策略失败: %w", err)
	}

	sec, err := secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥存储失败: %w", err)
	}

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	sessions, err := recorder.NewStore(ctx, cfg.Recorder)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("初始化会话存储失败: %w", err)
	}

	catalog, err := LoadCatalog(cfg.Procedures.Dir)
	if err != nil {
		_ = c.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("加载 procedure 失败: %w", err)
	}

	limiter := llm.NewRateLimiter(cfg.RateLimits.LLM, nil)
	b := &Bootstrap{
		Config:    cfg,
		Logger:    logger,
		Secrets:   sec,
		Cache:     c,
		Sessions:  sessions,
		Redactor:  redactor,
		Limiter:   limiter,
		Catalog:   catalog,
		Resolvers: map[string]*procedure.Resolver{},
		factory:   llm.RateLimitedFactory(llm.DefaultFactory(), limiter),
	}
	if cfg.Tools.Notes.Enable {
		b.Notes = builtin.NewNoteStore(c, config.ParseDuration(cfg.Tools.Notes.TTL, 0))
		b.RegisterResolver("note", b.lookupNote)
	}
	logger.Info("bootstrap ready",
		"procedures", len(catalog.List()),
		"recorder", cfg.Recorder.Type,
		"cache", cfg.Cache.Type,
		"secrets", cfg.Secrets.Provider)
	return b, nil
}

// SetModelFactory 替换模型创建方式（测试或自定义 provider）
func (b *Bootstrap) SetModelFactory(f llm.Factory) {
	if f != nil {
		b.factory = f
	}
}

// RegisterResolver 注册上下文标识解析器，缓存使用共享 cache
func (b *Bootstrap) RegisterResolver(kind string, lookup procedure.LookupFunc) {
	ttl := config.ParseDuration(b.Config.Cache.TTL, 0)
	b.Resolvers[kind] = procedure.NewResolver(kind, lookup, b.Cache, ttl)
}

// ClearResolvers 清空所有解析缓存
func (b *Bootstrap) ClearResolvers(ctx context.Context) error {
	var errs []error
	for _, r := range b.Resolvers {
		errs = append(errs, r.Clear(ctx))
	}
	return errors.Join(errs...)
}

// lookupNote 将笔记标题解析为 id；已是 id 时原样返回
func (b *Bootstrap) lookupNote(ctx context.Context, identifier string) (string, error) {
	if n, err := b.Notes.Get(ctx, identifier); err == nil {
		return n.ID, nil
	}
	notes, err := b.Notes.List(ctx, "")
	if err != nil {
		return "", err
	}
	for _, n := range notes {
		if strings.EqualFold(n.Title, identifier) {
			return n.ID, nil
		}
	}
	return "", builtin.ErrNoteNotFound
}

// Close 释放缓存与会话存储连接
func (b *Bootstrap) Close() error {
	return errors.Join(b.Sessions.Close(), b.Cache.Close())
}
