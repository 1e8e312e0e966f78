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

package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sop-platform/internal/agent/tools"
	"sop-platform/internal/storage/cache"
)

// 笔记工具名
const (
	CreateNoteToolName = "create_note"
	ListNotesToolName  = "list_notes"
	GetNoteToolName    = "get_note"
)

// ErrNoteNotFound 笔记不存在或已过期
var ErrNoteNotFound = errors.New("note not found")

// Note procedure 产出的笔记
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteStore 基于 cache.Store 的笔记存储；索引与笔记分 key 保存
type NoteStore struct {
	mu     sync.Mutex
	cache  cache.Store
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewNoteStore 创建笔记存储；ttl<=0 表示不过期
func NewNoteStore(c cache.Store, ttl time.Duration) *NoteStore {
	if c == nil {
		c = cache.NewMemoryStore()
	}
	return &NoteStore{cache: c, prefix: "notes:", ttl: ttl, now: time.Now}
}

func (s *NoteStore) noteKey(id string) string { return s.prefix + "note:" + id }

func (s *NoteStore) indexKey() string { return s.prefix + "index" }

// Create 保存笔记
func (s *NoteStore) Create(ctx context.Context, title, content string, tags []string) (*Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	n := &Note{
		ID:        ulid.Make().String(),
		Title:     title,
		Content:   content,
		Tags:      tags,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Set(ctx, s.noteKey(n.ID), n, s.ttl); err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	ids, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	ids = append(ids, n.ID)
	if err := s.cache.Set(ctx, s.indexKey(), ids, s.ttl); err != nil {
		return nil, fmt.Errorf("save note index: %w", err)
	}
	return n, nil
}

// Get 读取笔记
func (s *NoteStore) Get(ctx context.Context, id string) (*Note, error) {
	var n Note
	if err := s.cache.Get(ctx, s.noteKey(id), &n); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
		}
		return nil, err
	}
	return &n, nil
}

// List 按创建顺序返回笔记，可按 tag 过滤；已过期的笔记被跳过
func (s *NoteStore) List(ctx context.Context, tag string) ([]Note, error) {
	s.mu.Lock()
	ids, err := s.index(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(ids))
	for _, id := range ids {
		n, err := s.Get(ctx, id)
		if errors.Is(err, ErrNoteNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if tag != "" && !containsTag(n.Tags, tag) {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (s *NoteStore) index(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.cache.Get(ctx, s.indexKey(), &ids)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load note index: %w", err)
	}
	return ids, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Descriptors create_note / list_notes / get_note
func (s *NoteStore) Descriptors() []tools.Descriptor {
	return []tools.Descriptor{
		{
			Name:        CreateNoteToolName,
			Description: "Create a note with a title and content. Use it to record findings produced by the procedure.",
			Parameters: tools.Schema{
				Type: "object",
				Properties: map[string]tools.Property{
					"title":   {Type: "string", Description: "Short title"},
					"content": {Type: "string", Description: "Note body"},
					"tags":    {Type: "array", Description: "Optional tags", Items: &tools.Property{Type: "string"}},
				},
				Required: []string{"title"},
			},
			Invoke: func(ctx context.Context, args map[string]any) (any, error) {
				title, _ := args["title"].(string)
				content, _ := args["content"].(string)
				n, err := s.Create(ctx, title, content, stringSlice(args["tags"]))
				if err != nil {
					return nil, err
				}
				return map[string]any{"created": true, "id": n.ID, "title": n.Title}, nil
			},
		},
		{
			Name:        ListNotesToolName,
			Description: "List the notes created so far, optionally filtered by tag.",
			Parameters: tools.Schema{
				Type: "object",
				Properties: map[string]tools.Property{
					"tag": {Type: "string", Description: "Only return notes with this tag"},
				},
			},
			Invoke: func(ctx context.Context, args map[string]any) (any, error) {
				tag, _ := args["tag"].(string)
				notes, err := s.List(ctx, tag)
				if err != nil {
					return nil, err
				}
				return map[string]any{"count": len(notes), "notes": notes}, nil
			},
		},
		{
			Name:        GetNoteToolName,
			Description: "Get a single note by id.",
			Parameters: tools.Schema{
				Type: "object",
				Properties: map[string]tools.Property{
					"id": {Type: "string", Description: "Note id returned by create_note"},
				},
				Required: []string{"id"},
			},
			Invoke: func(ctx context.Context, args map[string]any) (any, error) {
				id, _ := args["id"].(string)
				return s.Get(ctx, strings.TrimSpace(id))
			},
		},
	}
}

func stringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}
