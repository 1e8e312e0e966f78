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
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore 进程内会话存储
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	cp.Entries = nil
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) AppendEntry(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[e.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, e.SessionID)
	}
	if s.Status != StatusActive {
		return ErrSessionClosed
	}
	s.Entries = append(s.Entries, e)
	s.UpdatedAt = e.CreatedAt
	return nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, id string, status Status, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status != StatusActive {
		return ErrSessionClosed
	}
	s.Status = status
	s.Name = name
	s.UpdatedAt = at
	s.EndedAt = &at
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	cp := *s
	cp.Entries = append([]Entry(nil), s.Entries...)
	return &cp, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, procedureID string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if procedureID != "" && s.ProcedureID != procedureID {
			continue
		}
		cp := *s
		cp.Entries = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
