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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sop-platform/pkg/config"
)

// ErrSecretNotFound secret 不存在
var ErrSecretNotFound = errors.New("secret not found")

// Store secret 读取/写入接口；模型凭证（api_key_secret）通过它解析
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)
	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error
	// Delete 删除 secret
	Delete(ctx context.Context, key string) error
	// List 列出指定前缀的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStore 根据配置创建 Secret Store
func NewStore(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			PathPrefix: cfg.Vault.PathPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// Lookup 读取 secret，不存在或为空白时返回 ErrSecretNotFound
func Lookup(ctx context.Context, s Store, key string) (string, error) {
	if s == nil || key == "" {
		return "", ErrSecretNotFound
	}
	v, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}
