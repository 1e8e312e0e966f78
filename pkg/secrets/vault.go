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
	"sort"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault KV v2 配置
type VaultConfig struct {
	Address    string // e.g. http://vault:8200
	Token      string
	PathPrefix string // KV v2 mount，默认 secret
}

// vaultStore 以 KV v2 引擎存放凭证；每个 key 对应一个 secret，值在 "value" 字段
type vaultStore struct {
	client *vault.Client
	mount  string
	kv     *vault.KVv2
}

// NewVaultStore 创建 Vault secret store；连接在首次读取时建立
func NewVaultStore(cfg VaultConfig) (Store, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := strings.Trim(cfg.PathPrefix, "/")
	if mount == "" {
		mount = "secret"
	}
	return &vaultStore{client: client, mount: mount, kv: client.KVv2(mount)}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	s, err := v.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("vault read %s: %w", key, err)
	}
	if s == nil || s.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if val, ok := s.Data["value"].(string); ok {
		return val, nil
	}
	// 兼容单字段 secret（如 api_key=...）
	fields := make([]string, 0, len(s.Data))
	for k := range s.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		if str, ok := s.Data[k].(string); ok {
			return str, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no string field", ErrSecretNotFound, key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	if _, err := v.kv.Put(ctx, key, map[string]interface{}{"value": value}); err != nil {
		return fmt.Errorf("vault write %s: %w", key, err)
	}
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	if err := v.kv.DeleteMetadata(ctx, key); err != nil {
		return fmt.Errorf("vault delete %s: %w", key, err)
	}
	return nil
}

// List 列出 metadata/<prefix> 下的直接子项
func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := strings.Trim(prefix, "/")
	path := v.mount + "/metadata/" + dir
	secret, err := v.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault list %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		name, ok := k.(string)
		if !ok {
			continue
		}
		if dir != "" {
			name = dir + "/" + name
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
