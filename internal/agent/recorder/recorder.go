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

// Package recorder 会话记录：每条消息、工具调用与工具结果都写入 Store，结果通过 ParentMessageID 关联到调用
package recorder

import (
	"context"
	"errors"
	"time"
)

// Status 会话状态
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// MessageType 记录类型
type MessageType string

const (
	TypeMessage      MessageType = "MESSAGE"
	TypeToolCall     MessageType = "TOOL_CALL"
	TypeToolResponse MessageType = "TOOL_RESPONSE"
	TypeSystem       MessageType = "SYSTEM"
)

var (
	// ErrNoSession 未调用 StartSession
	ErrNoSession = errors.New("no active session")
	// ErrSessionClosed 会话已结束
	ErrSessionClosed = errors.New("session already closed")
	// ErrSessionActive 已有进行中的会话
	ErrSessionActive = errors.New("session already started")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
)

// Record 一次 RecordMessage 的入参
type Record struct {
	Role            string
	Content         string
	Type            MessageType
	ToolName        string
	ToolArgs        map[string]any
	ToolResult      string
	ParentMessageID string
}

// Entry 已持久化的一条记录
type Entry struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Seq             int            `json:"seq"`
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	Type            MessageType    `json:"type"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolArgs        map[string]any `json:"tool_args,omitempty"`
	ToolResult      string         `json:"tool_result,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Session 会话及其有序记录
type Session struct {
	ID          string         `json:"id"`
	ProcedureID string         `json:"procedure_id"`
	Context     map[string]any `json:"context,omitempty"`
	Status      Status         `json:"status"`
	Name        string         `json:"name,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Entries     []Entry        `json:"entries,omitempty"`
}

// ChatRecorder 编排器使用的记录接口
type ChatRecorder interface {
	StartSession(ctx context.Context, procedureID string, runContext map[string]any) (string, error)
	RecordMessage(ctx context.Context, rec Record) (string, error)
	RecordSystemMessage(ctx context.Context, content string) (string, error)
	EndSession(ctx context.Context, status Status, name string) error
}

// Store 会话持久化
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	AppendEntry(ctx context.Context, e Entry) error
	// CloseSession 仅 ACTIVE 会话可关闭，否则返回 ErrSessionClosed
	CloseSession(ctx context.Context, id string, status Status, name string, at time.Time) error
	// GetSession 返回会话与全部记录
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions 按创建时间倒序，不含记录；procedureID 为空表示全部
	ListSessions(ctx context.Context, procedureID string, limit int) ([]*Session, error)
	Close() error
}

// Exchange 一次工具调用及其结果
type Exchange struct {
	Call     Entry  `json:"call"`
	Response *Entry `json:"response,omitempty"`
}

// Reconstruct 仅凭记录重建调用/结果配对；未得到结果的调用 Response 为 nil
func Reconstruct(s *Session) []Exchange {
	if s == nil {
		return nil
	}
	idx := map[string]int{}
	var out []Exchange
	for _, e := range s.Entries {
		switch e.Type {
		case TypeToolCall:
			idx[e.ID] = len(out)
			out = append(out, Exchange{Call: e})
		case TypeToolResponse:
			if i, ok := idx[e.ParentMessageID]; ok && out[i].Response == nil {
				resp := e
				out[i].Response = &resp
			}
		}
	}
	return out
}
