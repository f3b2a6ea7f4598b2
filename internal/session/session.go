package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unsafe"
)

// We define unexported key types to prevent key collisions with other packages.
type (
	traceIDCtxKey struct{}
	tenantCtxKey  struct{}
)

// Tenant is the application and module a call is attributed to.
type Tenant struct {
	App    string
	Module string
}

func (t Tenant) String() string {
	return t.App + "/" + t.Module
}

// ParseTenant parses the "app/module" form.
func ParseTenant(s string) (Tenant, error) {
	app, module, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || app == "" || module == "" || strings.Contains(module, "/") {
		return Tenant{}, fmt.Errorf("tenant %q: expected 'app/module'", s)
	}

	return Tenant{App: app, Module: module}, nil
}

// WithTenant returns a new context attributed to the given tenant.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, t)
}

// TenantFrom extracts the tenant from the context, if one exists.
func TenantFrom(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return t, ok
}

// Resolver resolves the current tenant from the context.
type Resolver struct{}

func (Resolver) CurrentTenant(ctx context.Context) (Tenant, bool) {
	return TenantFrom(ctx)
}

// WithNewTraceID ensures a trace ID is present in the context.
// If one already exists, it returns the original context unmodified.
func WithNewTraceID(ctx context.Context) context.Context {
	if _, ok := TraceIDFrom(ctx); ok {
		return ctx
	}

	return context.WithValue(ctx, traceIDCtxKey{}, generateTraceID())
}

// TraceIDFrom extracts a trace ID string from the context, if one exists.
func TraceIDFrom(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(traceIDCtxKey{}).(string)
	return traceID, ok
}

// generateTraceID encodes one random uint64 as 16 lowercase hex chars.
func generateTraceID() string {
	b := make([]byte, 16)

	q := rand.Uint64()
	for i := 15; i >= 0; i-- {
		r := uint8(q & 0xF)
		q >>= 4
		if r > 9 {
			r += 0x27
		}
		b[i] = r + 0x30
	}

	return unsafe.String(unsafe.SliceData(b), 16)
}
