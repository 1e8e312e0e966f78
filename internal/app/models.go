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

	"sop-platform/internal/model/llm"
	"sop-platform/pkg/config"
	"sop-platform/pkg/secrets"
)

// ModelConfig 按 provider.model_key 构造模型配置；api_key 为空时从密钥存储读取
// （api_key_secret，缺省为 <provider>/api_key）。凭证缺失不在此报错，由运行前校验给出修复建议
func (b *Bootstrap) ModelConfig(ctx context.Context, key string) (llm.Config, error) {
	provider, _, err := config.ParseModelKey(key)
	if err != nil {
		return llm.Config{}, err
	}
	pc, ok := b.Config.Model.LLM.Providers[provider]
	if !ok {
		return llm.Config{}, fmt.Errorf("LLM provider %q not configured", provider)
	}
	apiKey := pc.APIKey
	if apiKey == "" {
		ref := pc.APIKeySecret
		if ref == "" {
			ref = provider + "/api_key"
		}
		v, err := secrets.Lookup(ctx, b.Secrets, ref)
		switch {
		case err == nil:
			apiKey = v
		case errors.Is(err, secrets.ErrSecretNotFound):
		default:
			return llm.Config{}, fmt.Errorf("read secret %s: %w", ref, err)
		}
	}
	return llm.FromSettings(b.Config.Model, key, apiKey)
}

// modelKeys worker / manager 使用的模型 key；procedure 覆盖优先，manager 缺省跟随 worker
func (b *Bootstrap) modelKeys(worker, manager string) (string, string) {
	if worker == "" {
		worker = b.Config.Model.Defaults.Worker
	}
	if manager == "" {
		manager = b.Config.Model.Defaults.Manager
	}
	if manager == "" {
		manager = worker
	}
	return worker, manager
}

// ModelFactory 当前使用的模型工厂（带限流）
func (b *Bootstrap) ModelFactory() llm.Factory {
	return b.factory
}
