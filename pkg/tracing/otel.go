// Copyright 2026 fanjia1024
// OpenTelemetry integration for procedure tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sop-platform"

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartProcedureSpan 开始一次 procedure 运行的 span
func StartProcedureSpan(ctx context.Context, procedureID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "procedure.run",
		trace.WithAttributes(attribute.String("procedure.id", procedureID)),
	)
}

// StartRoundSpan 开始单轮 span
func StartRoundSpan(ctx context.Context, round int, toolsBound bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "procedure.round",
		trace.WithAttributes(
			attribute.Int("round.number", round),
			attribute.Bool("round.tools_bound", toolsBound),
		),
	)
}

// StartToolSpan 开始 tool invocation span
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool.invoke",
		trace.WithAttributes(attribute.String("tool.name", toolName)),
	)
}

// StartLLMSpan 开始 LLM 调用 span，role 为 worker / manager
func StartLLMSpan(ctx context.Context, role, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.invoke",
		trace.WithAttributes(
			attribute.String("llm.role", role),
			attribute.String("llm.model", model),
		),
	)
}

// EndSpan 结束 span，err 非空时标记错误
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
