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

package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"

	"sop-platform/pkg/auth"
)

const (
	// IdentityKey token 中的身份字段
	IdentityKey = "sub"
	roleClaim   = "role"
)

type loginBody struct {
	Key string `json:"key"`
}

// Identity 登录后的调用方
type Identity struct {
	Subject string
	Role    auth.Role
}

// NewJWTAuth 创建 JWT 中间件；POST /api/auth/login 以 loginKeys 中某个角色的共享密钥换取 token
func NewJWTAuth(signingKey []byte, loginKeys map[auth.Role]string, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("jwt signing key is empty")
	}
	keys := map[auth.Role]string{}
	for role, key := range loginKeys {
		if key != "" {
			keys[role] = key
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("jwt login key is empty")
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "sop",
		Key:         signingKey,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(*Identity); ok {
				return jwt.MapClaims{IdentityKey: id.Subject, roleClaim: string(id.Role)}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			sub, _ := claims[IdentityKey].(string)
			role, _ := claims[roleClaim].(string)
			return &Identity{Subject: sub, Role: auth.Role(role)}
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var body loginBody
			if err := json.Unmarshal(c.Request.Body(), &body); err != nil || body.Key == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			for role, key := range keys {
				if subtle.ConstantTimeCompare([]byte(body.Key), []byte(key)) == 1 {
					return &Identity{Subject: string(role), Role: role}, nil
				}
			}
			return nil, jwt.ErrFailedAuthentication
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, utils.H{"error": message})
		},
	})
}

// Require 校验 JWT 中的角色具有 permission，通过后将身份写入 context
func Require(permission auth.Permission) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		v, _ := c.Get(IdentityKey)
		id, ok := v.(*Identity)
		if !ok || !auth.HasPermission(id.Role, permission) {
			c.AbortWithStatusJSON(consts.StatusForbidden, utils.H{"error": "permission denied: " + string(permission)})
			return
		}
		ctx = auth.WithRole(auth.WithSubject(ctx, id.Subject), id.Role)
		c.Next(ctx)
	}
}
