package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/session"
)

// ┌─────────┐
// │ FINDERS │
// └─────────┘
func findFrom[T any](
	data map[string]any,
	key string,
	parser func(any) (T, error),
	err *error,
) *T {
	if err != nil && *err != nil {
		return nil
	}

	anyVal, ok := data[key]
	if !ok {
		return nil
	}

	val, parseErr := parser(anyVal)
	if parseErr != nil {
		*err = fmt.Errorf("field %q: %w", key, parseErr)
		return nil
	}

	return &val
}

func findStructFrom[T any, PT interface {
	*T
	toml.Unmarshaler
}](m map[string]any, key string, errPtr *error) *T {
	if errPtr != nil && *errPtr != nil {
		return nil
	}

	val, ok := m[key]
	if !ok {
		return nil
	}

	var item T
	if err := PT(&item).UnmarshalTOML(val); err != nil {
		*errPtr = fmt.Errorf("failed to decode '%s': %w", key, err)
		return nil
	}

	return &item
}

func findStructSliceFrom[T any, PT interface {
	*T
	toml.Unmarshaler
}](m map[string]any, key string, errPtr *error) []T {
	if errPtr != nil && *errPtr != nil {
		return nil
	}

	val, ok := m[key]
	if !ok {
		return nil
	}

	rawList, ok := val.([]any)
	if !ok {
		mapList, ok := val.([]map[string]any)
		if !ok {
			*errPtr = fmt.Errorf("field '%s' is not a list", key)
			return nil
		}

		rawList = make([]any, len(mapList))
		for i, v := range mapList {
			rawList[i] = v
		}
	}

	res := make([]T, 0, len(rawList))
	for i, raw := range rawList {
		var item T
		if err := PT(&item).UnmarshalTOML(raw); err != nil {
			*errPtr = fmt.Errorf("failed to decode '%s' item [%d]: %w", key, i, err)
			return nil
		}
		res = append(res, item)
	}

	return res
}

func findSliceFrom[T any](
	data map[string]any,
	key string,
	elementParser func(any) (T, error),
	err *error,
) []T {
	if err != nil && *err != nil {
		return nil
	}

	val, ok := data[key]
	if !ok {
		return nil
	}

	rawList, ok := val.([]any)
	if !ok {
		*err = fmt.Errorf("field %q: expected list, got %T", key, val)
		return nil
	}

	result := make([]T, 0, len(rawList))
	for i, rawItem := range rawList {
		parsedItem, parseErr := elementParser(rawItem)
		if parseErr != nil {
			*err = fmt.Errorf("field %q[%d]: %w", key, i, parseErr)
			return nil
		}
		result = append(result, parsedItem)
	}

	return result
}

func isOk[T any](p *T, err error) bool {
	return p != nil && err == nil
}

// ┌─────────┐
// │ PARSERS │
// └─────────┘
func parseBoolFn() func(any) (bool, error) {
	return func(v any) (bool, error) {
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("expected bool, got %T", v)
		}

		return b, nil
	}
}

func parseStringFn(check func(string) error) func(any) (string, error) {
	return func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}

		if check != nil {
			if err := check(s); err != nil {
				return "", err
			}
		}

		return s, nil
	}
}

func parseIntFn[T ~uint8 | ~uint16 | ~uint32](check func(int) error) func(any) (T, error) {
	return func(v any) (T, error) {
		i, ok := v.(int64)
		if !ok {
			return 0, fmt.Errorf("expected integer, got %T", v)
		}

		if check != nil {
			if err := check(int(i)); err != nil {
				return 0, err
			}
		}

		return T(i), nil
	}
}

func MustParseLogLevel(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		panic(err)
	}

	return l
}

func MustParseTCPAddr(s string) net.TCPAddr {
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}

	return *addr
}

func MustParseURL(s string) url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}

	return *u
}

// ParseTenantRule parses "app/module" or "app/module:feature,feature".
func ParseTenantRule(s string) (TenantRule, error) {
	tenantPart, featurePart, hasFeatures := strings.Cut(s, ":")

	t, err := session.ParseTenant(tenantPart)
	if err != nil {
		return TenantRule{}, err
	}

	rule := TenantRule{App: &t.App, Module: &t.Module}
	if !hasFeatures {
		return rule, nil
	}

	for _, name := range strings.Split(featurePart, ",") {
		f, err := compat.ParseFeature(strings.TrimSpace(name))
		if err != nil {
			return TenantRule{}, fmt.Errorf("tenant %q: %w", s, err)
		}
		if !slices.Contains(rule.Features, f) {
			rule.Features = append(rule.Features, f)
		}
	}

	return rule, nil
}
