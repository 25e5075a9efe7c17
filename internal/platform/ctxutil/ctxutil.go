package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type tenantKey struct{}
type traceDataKey struct{}

// TenantData identifies the tenant a request or job executes on behalf of.
type TenantData struct {
	TenantID uuid.UUID
	Name     string
}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTenant(ctx context.Context, td *TenantData) context.Context {
	return context.WithValue(ctx, tenantKey{}, td)
}

func GetTenant(ctx context.Context) *TenantData {
	if td, ok := ctx.Value(tenantKey{}).(*TenantData); ok {
		return td
	}
	return nil
}

func TenantID(ctx context.Context) uuid.UUID {
	if td := GetTenant(ctx); td != nil {
		return td.TenantID
	}
	return uuid.Nil
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// Default guards library code that may receive a nil context from callers.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
