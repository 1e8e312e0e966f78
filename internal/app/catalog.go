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
	"errors"
	"os"
	"sort"
	"sync"

	"sop-platform/internal/agent/procedure"
)

// ErrProcedureNotFound procedure id 不在目录中
var ErrProcedureNotFound = errors.New("procedure not found")

// Catalog 已加载的 procedure 定义
type Catalog struct {
	mu   sync.RWMutex
	dir  string
	byID map[string]*procedure.Standard
}

// NewCatalog 由定义直接构造
func NewCatalog(defs ...*procedure.Standard) *Catalog {
	c := &Catalog{byID: make(map[string]*procedure.Standard, len(defs))}
	for _, d := range defs {
		c.byID[d.ID()] = d
	}
	return c
}

// LoadCatalog 加载目录；目录不存在时返回空目录
func LoadCatalog(dir string) (*Catalog, error) {
	c := NewCatalog()
	c.dir = dir
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload 重新读取目录；失败时保留原有定义
func (c *Catalog) Reload() error {
	if c.dir == "" {
		return nil
	}
	if _, err := os.Stat(c.dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	defs, err := procedure.LoadDir(c.dir)
	if err != nil {
		return err
	}
	byID := make(map[string]*procedure.Standard, len(defs))
	for _, d := range defs {
		byID[d.ID()] = d
	}
	c.mu.Lock()
	c.byID = byID
	c.mu.Unlock()
	return nil
}

// Get 按 id 查找
func (c *Catalog) Get(id string) (*procedure.Standard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// List 按 id 排序
func (c *Catalog) List() []*procedure.Standard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*procedure.Standard, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
