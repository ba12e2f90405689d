// Package requestctx carries request attribution through a context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(orBackground(ctx), requestIDKey, requestID)
}

// RequestID returns the request id, or "" when none is set.
func RequestID(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// WithUserID returns a copy of ctx attributed to the signed-in user.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(orBackground(ctx), userIDKey, uid)
}

// UserID returns the signed-in user id, or "".
func UserID(ctx context.Context) string {
	return value(ctx, userIDKey)
}

// Fields returns zap fields for whatever attribution ctx carries.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if uid := UserID(ctx); uid != "" {
		fields = append(fields, zap.String("user_id", uid))
	}
	return fields
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}
