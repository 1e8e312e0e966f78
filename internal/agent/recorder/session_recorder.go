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

package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Redactor 持久化前对工具参数与运行上下文脱敏
type Redactor interface {
	RedactArgs(tool string, args map[string]any) map[string]any
}

// RecorderOption SessionRecorder 选项
type RecorderOption func(*SessionRecorder)

// WithRedactor 设置脱敏器
func WithRedactor(r Redactor) RecorderOption {
	return func(s *SessionRecorder) { s.redactor = r }
}

// SessionRecorder 基于 Store 的 ChatRecorder；一个实例对应一次运行，写入串行
type SessionRecorder struct {
	store    Store
	now      func() time.Time
	redactor Redactor

	mu        sync.Mutex
	sessionID string
	seq       int
	closed    bool
}

// NewSessionRecorder 创建记录器
func NewSessionRecorder(store Store, opts ...RecorderOption) *SessionRecorder {
	r := &SessionRecorder{store: store, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *SessionRecorder) redact(tool string, args map[string]any) map[string]any {
	if r.redactor == nil {
		return args
	}
	return r.redactor.RedactArgs(tool, args)
}

// SessionID 当前会话 id
func (r *SessionRecorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// StartSession 创建会话，id 形如 session-<uuid>
func (r *SessionRecorder) StartSession(ctx context.Context, procedureID string, runContext map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != "" {
		return "", ErrSessionActive
	}
	now := r.now()
	snapshot := make(map[string]any, len(runContext))
	for k, v := range runContext {
		snapshot[k] = v
	}
	snapshot = r.redact("", snapshot)
	s := &Session{
		ID:          "session-" + uuid.New().String(),
		ProcedureID: procedureID,
		Context:     snapshot,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return "", err
	}
	r.sessionID = s.ID
	return s.ID, nil
}

// RecordMessage 追加一条记录并返回其 id（ULID）
func (r *SessionRecorder) RecordMessage(ctx context.Context, rec Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return "", ErrNoSession
	}
	if r.closed {
		return "", ErrSessionClosed
	}
	if rec.Type == "" {
		rec.Type = TypeMessage
	}
	r.seq++
	e := Entry{
		ID:              ulid.Make().String(),
		SessionID:       r.sessionID,
		Seq:             r.seq,
		Role:            rec.Role,
		Content:         rec.Content,
		Type:            rec.Type,
		ToolName:        rec.ToolName,
		ToolArgs:        r.redact(rec.ToolName, rec.ToolArgs),
		ToolResult:      rec.ToolResult,
		ParentMessageID: rec.ParentMessageID,
		CreatedAt:       r.now(),
	}
	if err := r.store.AppendEntry(ctx, e); err != nil {
		r.seq--
		return "", err
	}
	return e.ID, nil
}

// RecordSystemMessage 记录系统消息
func (r *SessionRecorder) RecordSystemMessage(ctx context.Context, content string) (string, error) {
	return r.RecordMessage(ctx, Record{Role: "system", Content: content, Type: TypeSystem})
}

// EndSession 关闭会话，只能调用一次
func (r *SessionRecorder) EndSession(ctx context.Context, status Status, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return ErrNoSession
	}
	if r.closed {
		return ErrSessionClosed
	}
	if err := r.store.CloseSession(ctx, r.sessionID, status, name, r.now()); err != nil {
		return err
	}
	r.closed = true
	return nil
}

// Nop 不持久化的记录器
type Nop struct{}

func (Nop) StartSession(ctx context.Context, procedureID string, runContext map[string]any) (string, error) {
	return "", nil
}

func (Nop) RecordMessage(ctx context.Context, rec Record) (string, error) { return "", nil }

func (Nop) RecordSystemMessage(ctx context.Context, content string) (string, error) { return "", nil }

func (Nop) EndSession(ctx context.Context, status Status, name string) error { return nil }
