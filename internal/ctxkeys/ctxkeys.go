// Package ctxkeys 定义跨包传递的 context 值。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	userIDKey    contextKey = "user_id"
	orgIDKey     contextKey = "organization_id"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID（同时作为计费记录的幂等关联键）
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return getString(ctx, requestIDKey)
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return getString(ctx, traceIDKey)
}

// WithIdentity 设置调用方身份；组织 ID 为空表示个人请求
func WithIdentity(ctx context.Context, userID, organizationID string) context.Context {
	ctx = withString(ctx, userIDKey, userID)
	return withString(ctx, orgIDKey, organizationID)
}

// Identity 获取调用方身份
func Identity(ctx context.Context) (userID, organizationID string) {
	userID, _ = getString(ctx, userIDKey)
	organizationID, _ = getString(ctx, orgIDKey)
	return userID, organizationID
}
