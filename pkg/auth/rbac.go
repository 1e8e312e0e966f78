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

package auth

import "fmt"

// Permission 权限
type Permission string

const (
	PermissionProcedureView   Permission = "procedure:view"
	PermissionProcedureRun    Permission = "procedure:run"
	PermissionProcedureReload Permission = "procedure:reload"
	PermissionSessionView     Permission = "session:view"
)

// Role 角色
type Role string

const (
	RoleOperator Role = "operator" // 运行 procedure、重新加载目录、查看会话
	RoleViewer   Role = "viewer"   // 只读
)

// RolePermissions 角色与权限映射
var RolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermissionProcedureView,
		PermissionProcedureRun,
		PermissionProcedureReload,
		PermissionSessionView,
	},
	RoleViewer: {
		PermissionProcedureView,
		PermissionSessionView,
	},
}

// HasPermission 检查角色是否包含指定权限
func HasPermission(role Role, permission Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// ParseRole 校验角色名
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := RolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
