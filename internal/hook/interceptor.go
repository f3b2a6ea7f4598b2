package hook

import (
	"context"
	"net"
	"net/url"

	"github.com/xvzc/connhook/internal/compat"
)

// Interceptor is the handler installed for every claimed protocol. It
// delegates the connect to the captured original handler and wraps the
// result for calls attributed to a tenant.
type Interceptor struct {
	registry  *Registry
	tenants   TenantResolver
	features  FeatureStore
	decorator Decorator
}

var _ Handler = (*Interceptor)(nil)

func NewInterceptor(
	registry *Registry,
	tenants TenantResolver,
	features FeatureStore,
	decorator Decorator,
) *Interceptor {
	return &Interceptor{
		registry:  registry,
		tenants:   tenants,
		features:  features,
		decorator: decorator,
	}
}

func (i *Interceptor) Open(ctx context.Context, u *url.URL) (net.Conn, error) {
	return i.open(ctx, u, nil, false)
}

func (i *Interceptor) OpenVia(
	ctx context.Context,
	u *url.URL,
	proxy *url.URL,
) (net.Conn, error) {
	return i.open(ctx, u, proxy, true)
}

func (i *Interceptor) open(
	ctx context.Context,
	u *url.URL,
	proxy *url.URL,
	useProxy bool,
) (net.Conn, error) {
	original, ok := i.registry.Get(u.Scheme)
	if !ok {
		return nil, &HandlerNotCapturedError{Protocol: u.Scheme}
	}

	raw, err := i.connect(ctx, original, u, proxy, useProxy)
	if err != nil {
		return nil, &ConnectionError{URL: u.String(), Err: err}
	}

	tenant, ok := i.tenants.CurrentTenant(ctx)
	if !ok {
		return raw, nil
	}

	// Opens made by a delegate on behalf of an outer open stay raw.
	if i.features.Enabled(ctx, tenant, compat.FeatureSuppressInterception) {
		return raw, nil
	}

	kind := KindOf(raw)
	if i.features.Enabled(ctx, tenant, compat.FeatureIgnoreInterception) {
		return i.decorator.WrapBasic(kind, raw), nil
	}

	return i.decorator.WrapStreaming(kind, raw), nil
}

// connect runs the delegate with interception suppressed. The suppressed
// context never leaves this call.
func (i *Interceptor) connect(
	ctx context.Context,
	original Handler,
	u *url.URL,
	proxy *url.URL,
	useProxy bool,
) (net.Conn, error) {
	ctx = i.features.With(ctx, compat.FeatureSuppressInterception, true)

	if useProxy {
		return original.OpenVia(ctx, u, proxy)
	}

	return original.Open(ctx, u)
}
