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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"sop-platform/internal/agent/conversation"
	"sop-platform/internal/agent/procedure"
	"sop-platform/internal/agent/recorder"
	"sop-platform/internal/agent/tools"
	"sop-platform/internal/model/llm"
	"sop-platform/pkg/log"
	"sop-platform/pkg/metrics"
	"sop-platform/pkg/tracing"
)

const (
	explanationReminder = "Before you call another tool, your next response must explain in plain language what the tool result above means for the procedure and what you intend to do next."

	finalSummaryRequest = "The procedure has ended. Summarize what was done, which tools were used and what the outcome was. Answer in plain text and do not call any tools."

	defaultGuidance = "Continue with the next step of the procedure. Call stop_procedure when the work is complete."

	reasonMaxRounds = "max rounds reached"
	reasonCondition = "continuation condition no longer holds"
)

type runner struct {
	procedureID string
	def         procedure.Definition
	rc          procedure.RunContext
	scope       *tools.Scope
	toolInfos   []*schema.ToolInfo

	worker     llm.ChatModel
	manager    llm.ChatModel
	workerCfg  llm.Config
	managerCfg llm.Config

	rec       recorder.ChatRecorder
	sessionID string
	history   *conversation.History
	state     *procedure.State

	forceExplanation bool

	workerFilter  conversation.Filter
	managerFilter conversation.Filter
	workerBudget  int
	managerBudget int

	maxRounds int
	maxErrors int
	logger    *log.Logger
}

func (r *runner) run(ctx context.Context) *Result {
	if err := r.begin(ctx); err != nil {
		r.logger.Error("failed to seed conversation", "error", err)
	}

	completed := 0
	stopReason := ""
	consecutive := 0
	for round := 1; ; round++ {
		if r.state.StopRequested {
			break
		}
		if round > r.maxRounds {
			stopReason = reasonMaxRounds
			break
		}
		r.state.Round = round
		if !r.def.ShouldContinue(r.state) {
			stopReason = reasonCondition
			break
		}
		completed = round

		if err := r.safeRound(ctx, round); err != nil {
			consecutive++
			metrics.RoundErrorsTotal.WithLabelValues(r.procedureID).Inc()
			r.logger.Error("round failed", "round", round, "consecutive", consecutive, "error", err)
			if consecutive >= r.maxErrors {
				stopReason = fmt.Sprintf("stopped after %d consecutive round errors", consecutive)
				break
			}
			continue
		}
		consecutive = 0
	}
	r.state.Round = completed
	if r.state.StopRequested {
		stopReason = r.state.StopReason
	}

	finalResponse := r.finalSummary(ctx)

	if err := r.rec.EndSession(ctx, recorder.StatusCompleted, r.procedureID); err != nil {
		r.logger.Error("failed to end session", "session_id", r.sessionID, "error", err)
	}
	metrics.ProcedureTotal.WithLabelValues(r.procedureID, "completed").Inc()
	metrics.ProcedureRounds.WithLabelValues(r.procedureID).Observe(float64(completed))

	summary := r.def.CompletionSummary(r.state)
	r.logger.Info("procedure completed",
		"session_id", r.sessionID,
		"rounds", completed,
		"tools_used", r.state.ToolsUsed,
		"stop_reason", stopReason)

	used := make([]string, len(r.state.ToolsUsed))
	copy(used, r.state.ToolsUsed)
	return &Result{
		Success:           true,
		ProcedureID:       r.procedureID,
		SessionID:         r.sessionID,
		ToolsUsed:         used,
		RoundsCompleted:   completed,
		CompletionSummary: summary,
		FinalResponse:     finalResponse,
		FinalState:        r.state.Clone(),
		StopReason:        stopReason,
	}
}

// begin 写入 worker 的系统提示与首条用户消息
func (r *runner) begin(ctx context.Context) error {
	sys := conversation.System(r.def.SystemPrompt(r.rc))
	user := conversation.User(r.def.UserPrompt(r.rc))
	if err := r.history.Append(sys, user); err != nil {
		return err
	}
	if _, err := r.rec.RecordSystemMessage(ctx, sys.Content); err != nil {
		r.logger.Warn("failed to record system prompt", "error", err)
	}
	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role: string(conversation.RoleUser), Content: user.Content, Type: recorder.TypeMessage,
	}); err != nil {
		r.logger.Warn("failed to record user prompt", "error", err)
	}
	return nil
}

func (r *runner) safeRound(ctx context.Context, round int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("round %d panicked: %v", round, p)
		}
	}()
	return r.runRound(ctx, round)
}

func (r *runner) runRound(ctx context.Context, round int) (err error) {
	// 标志只在解释文本写入历史后清除，失败的解释轮不会解除约束
	force := r.forceExplanation

	var bound []*schema.ToolInfo
	if !force {
		bound = r.toolInfos
	}
	ctx, span := tracing.StartRoundSpan(ctx, round, len(bound) > 0)
	defer func() { tracing.EndSpan(span, err) }()

	view := r.workerFilter.Filter(r.history.Messages(), r.workerBudget, "")
	resp, err := r.invoke(ctx, "worker", r.worker, r.workerCfg, view, bound)
	if err != nil {
		return err
	}

	if resp.HasToolCalls() {
		if force {
			r.logger.Warn("tool calls ignored in explanation round",
				"round", round, "tools", callNames(resp.ToolCalls))
		} else {
			return r.handleToolCall(ctx, round, resp)
		}
	}
	return r.handleText(ctx, round, resp.Content)
}

func (r *runner) handleToolCall(ctx context.Context, round int, resp *llm.Response) error {
	call := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		r.logger.Warn("multiple tool calls requested, only the first is executed",
			"round", round, "executed", call.Name, "ignored", callNames(resp.ToolCalls[1:]))
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.New().String()
	}

	callMsgID, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role:     string(conversation.RoleAssistant),
		Content:  resp.Content,
		Type:     recorder.TypeToolCall,
		ToolName: call.Name,
		ToolArgs: r.recordArgs(call),
	})
	if err != nil {
		return fmt.Errorf("record tool call %s: %w", call.Name, err)
	}

	var content string
	if call.Name == tools.StopToolName {
		reason, success := tools.ParseStopArgs(call.Arguments)
		r.state.RequestStop(reason, success)
		r.state.RecordTool(tools.StopToolName)
		content = fmt.Sprintf("Procedure stop requested (success=%t): %s", success, reason)
		r.logger.Info("stop requested", "round", round, "reason", reason, "success", success)
	} else {
		res := r.scope.Call(ctx, call.Name, call.Arguments)
		if res.OK() {
			r.state.RecordTool(call.Name)
		} else {
			r.logger.Warn("tool call failed", "round", round, "tool", call.Name, "error", res.Err)
		}
		content = res.Text()
	}

	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role:            string(conversation.RoleTool),
		Content:         content,
		Type:            recorder.TypeToolResponse,
		ToolName:        call.Name,
		ToolResult:      content,
		ParentMessageID: callMsgID,
	}); err != nil {
		r.logger.Warn("failed to record tool response", "tool", call.Name, "error", err)
	}

	if err := r.history.Append(
		conversation.Assistant(resp.Content, conversation.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments}),
		conversation.ToolResult(call.ID, call.Name, content),
		conversation.System(explanationReminder),
	); err != nil {
		return err
	}
	if _, err := r.rec.RecordSystemMessage(ctx, explanationReminder); err != nil {
		r.logger.Warn("failed to record reminder", "error", err)
	}
	r.forceExplanation = true
	return nil
}

func (r *runner) handleText(ctx context.Context, round int, content string) error {
	if err := r.history.Append(conversation.Assistant(content)); err != nil {
		return err
	}
	r.forceExplanation = false
	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role: string(conversation.RoleAssistant), Content: content, Type: recorder.TypeMessage,
	}); err != nil {
		r.logger.Warn("failed to record worker message", "round", round, "error", err)
	}

	if !r.willContinue(round) {
		return nil
	}
	guidance, err := r.askManager(ctx)
	if err != nil {
		return err
	}
	if err := r.history.Append(conversation.User(guidance)); err != nil {
		return err
	}
	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role: string(conversation.RoleUser), Content: guidance, Type: recorder.TypeMessage,
	}); err != nil {
		r.logger.Warn("failed to record guidance", "round", round, "error", err)
	}
	return nil
}

// willContinue 下一轮是否会执行；不会执行时无需 manager 指导
func (r *runner) willContinue(round int) bool {
	if r.state.StopRequested || round >= r.maxRounds {
		return false
	}
	next := r.state.Clone()
	next.Round = round + 1
	return r.def.ShouldContinue(next)
}

func (r *runner) askManager(ctx context.Context) (string, error) {
	view := r.managerFilter.Filter(r.history.Messages(), r.managerBudget, r.def.ManagerSystemPrompt(r.rc))
	view = append(view, conversation.User(r.def.ManagerGuidancePrompt(r.rc, r.state)))
	resp, err := r.invoke(ctx, "manager", r.manager, r.managerCfg, view, nil)
	if err != nil {
		return "", err
	}
	guidance := strings.TrimSpace(resp.Content)
	if guidance == "" {
		guidance = defaultGuidance
	}
	return guidance, nil
}

func (r *runner) finalSummary(ctx context.Context) string {
	if err := r.history.Append(conversation.User(finalSummaryRequest)); err != nil {
		r.logger.Error("failed to append summary request", "error", err)
		return ""
	}
	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role: string(conversation.RoleUser), Content: finalSummaryRequest, Type: recorder.TypeMessage,
	}); err != nil {
		r.logger.Warn("failed to record summary request", "error", err)
	}

	view := r.workerFilter.Filter(r.history.Messages(), r.workerBudget, "")
	resp, err := r.invoke(ctx, "worker", r.worker, r.workerCfg, view, nil)
	if err != nil {
		r.logger.Error("final summary failed", "error", err)
		return ""
	}
	if err := r.history.Append(conversation.Assistant(resp.Content)); err != nil {
		r.logger.Error("failed to append summary", "error", err)
	}
	if _, err := r.rec.RecordMessage(ctx, recorder.Record{
		Role: string(conversation.RoleAssistant), Content: resp.Content, Type: recorder.TypeMessage,
	}); err != nil {
		r.logger.Warn("failed to record summary", "error", err)
	}
	return resp.Content
}

func (r *runner) invoke(ctx context.Context, role string, m llm.ChatModel, cfg llm.Config, view []conversation.Message, bound []*schema.ToolInfo) (*llm.Response, error) {
	ctx, span := tracing.StartLLMSpan(ctx, role, cfg.Model())
	start := time.Now()
	resp, err := m.Invoke(ctx, conversation.ToEino(view), bound)
	metrics.LLMDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", role, err)
	}
	metrics.LLMTokensTotal.WithLabelValues(role, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(role, "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// recordArgs 记录用的参数；无法规整时保留原文
func (r *runner) recordArgs(call llm.ToolCall) map[string]any {
	var params tools.Schema
	if call.Name == tools.StopToolName {
		params = tools.StopTool().Parameters
	} else if d, ok := r.lookup(call.Name); ok {
		params = d.Parameters
	}
	args, err := tools.NormalizeArgs(call.Arguments, params)
	if err != nil {
		return map[string]any{"raw": call.Arguments}
	}
	return args
}

func (r *runner) lookup(name string) (tools.Descriptor, bool) {
	for _, d := range r.scope.Descriptors() {
		if d.Name == name {
			return d, true
		}
	}
	return tools.Descriptor{}, false
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
