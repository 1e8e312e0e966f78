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

package tools

import (
	"strconv"
	"strings"
)

// StopToolName 结束 procedure 的内置工具名
const StopToolName = "stop_procedure"

// StopTool stop_procedure 的描述；由编排器注入并拦截，不进入 Registry
func StopTool() Descriptor {
	return Descriptor{
		Name:        StopToolName,
		Description: "Stop the procedure when the work is complete or cannot continue. Provide a short reason and whether the procedure succeeded.",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"reason":  {Type: "string", Description: "Why the procedure is stopping"},
				"success": {Type: "boolean", Description: "Whether the procedure achieved its goal"},
			},
			Required: []string{"reason"},
		},
	}
}

// ParseStopArgs 解析 stop_procedure 参数；success 缺省为 true
func ParseStopArgs(raw any) (reason string, success bool) {
	args, err := NormalizeArgs(raw, StopTool().Parameters)
	if err != nil {
		return "", true
	}
	if r, ok := args["reason"]; ok && r != nil {
		reason = stringify(r)
	}
	success = true
	switch v := args["success"].(type) {
	case bool:
		success = v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			success = b
		}
	}
	return reason, success
}
