// Package context carries correlation identifiers through request and job
// contexts so loggers and spans can pick them up.
package context

import (
	"context"
	"strconv"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	runIDKey
	floatIDKey
	actorKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithRunID tags a context with the sync run it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, strings.TrimSpace(runID))
}

func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

func WithFloatID(ctx context.Context, floatID int64) context.Context {
	return context.WithValue(ctx, floatIDKey, floatID)
}

// FloatIDFromContext returns the float being processed, or "" when none.
func FloatIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(floatIDKey).(int64); ok && v > 0 {
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey).(actor); ok {
		return v.kind, v.id
	}
	return "", ""
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
