package telemetry

import (
	"context"
	"errors"

	"github.com/BaSui01/aicore/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName tracer 名称
const InstrumentationName = "github.com/BaSui01/aicore"

// span 属性键
const (
	AttrRequestID  = attribute.Key("aicore.request_id")
	AttrCapability = attribute.Key("aicore.capability")
	AttrModel      = attribute.Key("aicore.model")
	AttrRequested  = attribute.Key("aicore.model.requested")
	AttrProvider   = attribute.Key("aicore.provider")
	AttrOwner      = attribute.Key("aicore.owner")
	AttrCacheHit   = attribute.Key("aicore.cache_hit")
	AttrRouting    = attribute.Key("aicore.routing")
	AttrCredits    = attribute.Key("aicore.credits")
	AttrErrorCode  = attribute.Key("aicore.error_code")
	AttrAttempt    = attribute.Key("aicore.attempt")
)

// Tracer 返回全局 provider 上的 aicore tracer，遥测禁用时为 noop
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan 开始一个内部 span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan 记录错误（如有）并结束 span。
// 取消不视为失败，只打上事件。
func EndSpan(span trace.Span, err error) {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			span.AddEvent("canceled")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if te, ok := types.AsError(err); ok {
				span.SetAttributes(AttrErrorCode.String(string(te.Code)))
			}
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
