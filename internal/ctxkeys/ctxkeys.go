package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobRefKey    contextKey = "job_ref"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithJobRef 设置作业引用（工作目录标识）
func WithJobRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, jobRefKey, ref)
}

// JobRef 获取作业引用
func JobRef(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(jobRefKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
