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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/CLI 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ProcedureTotal, ProcedureRounds, RoundErrorsTotal,
		ToolDuration, ToolCallsTotal,
		LLMDuration, LLMTokensTotal,
		RateLimitWaitSeconds, RateLimitTokensUsed,
	)
}

// ProcedureTotal Procedure 运行总数（按结束状态）
var ProcedureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sop_procedure_total",
		Help: "Procedure 运行总数（按状态）",
	},
	[]string{"procedure", "status"}, // completed | error
)

// ProcedureRounds 每次运行完成的轮数
var ProcedureRounds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sop_procedure_rounds",
		Help:    "每次 Procedure 运行完成的轮数",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
	},
	[]string{"procedure"},
)

// RoundErrorsTotal 轮次内异常数（轮次被放弃但运行继续）
var RoundErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sop_round_errors_total",
		Help: "轮次内异常总数",
	},
	[]string{"procedure"},
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sop_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolCallsTotal 工具调用次数（按结果）
var ToolCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sop_tool_calls_total",
		Help: "工具调用次数",
	},
	[]string{"tool", "result"}, // ok | error | not_found | timeout
)

// LLMDuration LLM 调用耗时（秒）
var LLMDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sop_llm_duration_seconds",
		Help:    "LLM 调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"role"}, // worker | manager
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sop_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"role", "direction"}, // input | output
)

// RateLimitWaitSeconds 限流等待时长
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sop_rate_limit_wait_seconds",
		Help:    "限流等待时长（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "provider"},
)

// RateLimitTokensUsed 当前分钟窗口内已用 token
var RateLimitTokensUsed = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sop_rate_limit_tokens_used_minute",
		Help: "当前分钟窗口内已用 token",
	},
	[]string{"provider"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
