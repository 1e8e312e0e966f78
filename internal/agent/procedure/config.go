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

package procedure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Prompts 提示词模板
type Prompts struct {
	WorkerSystem    string `yaml:"worker_system"`
	WorkerUser      string `yaml:"worker_user"`
	ManagerSystem   string `yaml:"manager_system"`
	ManagerGuidance string `yaml:"manager_guidance"`
}

// ResolveRule 运行前将上下文中的标识（From）解析为规范 id（To），Kind 选择 resolver
type ResolveRule struct {
	Kind string `yaml:"kind"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ModelsConfig 覆盖默认模型，格式 provider.model_key
type ModelsConfig struct {
	Worker  string `yaml:"worker"`
	Manager string `yaml:"manager"`
}

// FiltersConfig 覆盖视图 token 预算
type FiltersConfig struct {
	WorkerMaxTokens  int `yaml:"worker_max_tokens"`
	ManagerMaxTokens int `yaml:"manager_max_tokens"`
}

// Config procedure YAML 定义
type Config struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	MaxRounds    int               `yaml:"max_rounds"`
	AllowedTools []string          `yaml:"allowed_tools"`
	ArtifactTool string            `yaml:"artifact_tool"`
	ArtifactNoun string            `yaml:"artifact_noun"`
	Prompts      Prompts           `yaml:"prompts"`
	Aliases      map[string]string `yaml:"aliases"`
	Resolve      []ResolveRule     `yaml:"resolve"`
	Models       ModelsConfig      `yaml:"models"`
	Filters      FiltersConfig     `yaml:"filters"`
}

// ParseConfig 解析 YAML
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse procedure yaml: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfig 读取并解析 YAML 文件
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read procedure %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate 校验必填项与一致性，一次返回全部问题
func (c Config) Validate() error {
	var errs []error
	if !idPattern.MatchString(c.ID) {
		errs = append(errs, fmt.Errorf("id %q must match %s", c.ID, idPattern))
	}
	if strings.TrimSpace(c.Prompts.WorkerSystem) == "" {
		errs = append(errs, errors.New("prompts.worker_system is required"))
	}
	if strings.TrimSpace(c.Prompts.WorkerUser) == "" {
		errs = append(errs, errors.New("prompts.worker_user is required"))
	}
	if c.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("max_rounds must be >= 0, got %d", c.MaxRounds))
	}
	seen := map[string]bool{}
	for _, t := range c.AllowedTools {
		if seen[t] {
			errs = append(errs, fmt.Errorf("allowed_tools: duplicate %q", t))
		}
		seen[t] = true
	}
	if c.ArtifactTool != "" && !seen[c.ArtifactTool] {
		errs = append(errs, fmt.Errorf("artifact_tool %q is not in allowed_tools", c.ArtifactTool))
	}
	for i, r := range c.Resolve {
		if r.Kind == "" || r.From == "" {
			errs = append(errs, fmt.Errorf("resolve[%d]: kind and from are required", i))
		}
	}
	for legacy, canonical := range c.Aliases {
		if legacy == "" || canonical == "" {
			errs = append(errs, errors.New("aliases: empty name"))
		}
	}
	return errors.Join(errs...)
}

// LoadDir 加载目录下全部 *.yaml / *.yml，按 id 排序；id 重复报错
func LoadDir(dir string) ([]*Standard, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	var out []*Standard
	ids := map[string]string{}
	for _, p := range paths {
		cfg, err := LoadConfig(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := ids[cfg.ID]; ok {
			return nil, fmt.Errorf("procedure id %q defined in both %s and %s", cfg.ID, prev, p)
		}
		ids[cfg.ID] = p
		std, err := NewStandard(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, std)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}
