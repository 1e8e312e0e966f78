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

package sop

import (
	"sop-platform/internal/agent/procedure"
)

// Result RunProcedure 的返回；Success=false 仅表示运行未能开始
type Result struct {
	Success           bool             `json:"success"`
	ProcedureID       string           `json:"procedure_id"`
	SessionID         string           `json:"session_id,omitempty"`
	ToolsUsed         []string         `json:"tools_used"`
	RoundsCompleted   int              `json:"rounds_completed"`
	CompletionSummary string           `json:"completion_summary,omitempty"`
	FinalResponse     string           `json:"final_response,omitempty"`
	FinalState        *procedure.State `json:"final_state,omitempty"`
	StopReason        string           `json:"stop_reason,omitempty"`
	Error             string           `json:"error,omitempty"`
	Suggestion        string           `json:"suggestion,omitempty"`
}

// SetupFailure 运行未能开始时的结果
func SetupFailure(procedureID, msg, suggestion string) *Result {
	return &Result{
		Success:     false,
		ProcedureID: procedureID,
		ToolsUsed:   []string{},
		Error:       msg,
		Suggestion:  suggestion,
	}
}
