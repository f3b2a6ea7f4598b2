// Package compat holds per-tenant compatibility flags that switch connection
// interception behavior on or off.
package compat

import (
	"context"
	"fmt"

	"github.com/xvzc/connhook/internal/session"
)

type Feature int

const (
	// FeatureIgnoreInterception makes the interceptor return a pass-through
	// wrapper instead of an instrumented one.
	FeatureIgnoreInterception Feature = iota
	// FeatureSuppressInterception marks a call chain whose opens must not be
	// wrapped at all.
	FeatureSuppressInterception
)

var featureNames = []string{"ignore-interception", "suppress-interception"}

func (f Feature) String() string {
	if int(f) < len(featureNames) {
		return featureNames[f]
	}

	return fmt.Sprintf("feature(%d)", int(f))
}

func ParseFeature(s string) (Feature, error) {
	for i, name := range featureNames {
		if name == s {
			return Feature(i), nil
		}
	}

	return 0, fmt.Errorf("unknown feature %q", s)
}

// Rule enables a set of features for one tenant.
type Rule struct {
	Tenant   session.Tenant
	Features []Feature
}

type flagKey struct {
	app     string
	module  string
	feature Feature
}

type overrideCtxKey struct{}

// overrides is an immutable linked list so that derived contexts never
// observe each other's settings.
type overrides struct {
	feature Feature
	on      bool
	parent  *overrides
}

func (o *overrides) lookup(f Feature) (bool, bool) {
	for n := o; n != nil; n = n.parent {
		if n.feature == f {
			return n.on, true
		}
	}

	return false, false
}

// Store answers feature lookups from call-scoped overrides first and the
// static per-tenant table second. Nothing is cached between calls.
type Store struct {
	flags map[flagKey]bool
}

func NewStore(rules []Rule) *Store {
	flags := make(map[flagKey]bool)
	for _, r := range rules {
		for _, f := range r.Features {
			flags[flagKey{app: r.Tenant.App, module: r.Tenant.Module, feature: f}] = true
		}
	}

	return &Store{flags: flags}
}

func (s *Store) Enabled(ctx context.Context, t session.Tenant, f Feature) bool {
	if o, ok := ctx.Value(overrideCtxKey{}).(*overrides); ok {
		if on, found := o.lookup(f); found {
			return on
		}
	}

	return s.flags[flagKey{app: t.App, module: t.Module, feature: f}]
}

// With returns a context in which f is forced to on for every tenant.
func (s *Store) With(ctx context.Context, f Feature, on bool) context.Context {
	parent, _ := ctx.Value(overrideCtxKey{}).(*overrides)
	return context.WithValue(ctx, overrideCtxKey{}, &overrides{
		feature: f,
		on:      on,
		parent:  parent,
	})
}
