package ctxutil

import "context"

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type ctxKey int

const (
	traceDataKey ctxKey = iota
	threadIDKey
)

// TraceData carries the request correlation ids attached by the trace
// middleware.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey).(*TraceData)
	return td
}

// WithThreadID stores the resolved conversation thread id.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(Default(ctx), threadIDKey, threadID)
}

func GetThreadID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}
