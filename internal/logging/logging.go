package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/session"
)

const (
	scopeFieldName      = "scope"
	localScopeFieldName = "local_scope"
	traceIDFieldName    = "trace_id"
	tenantFieldName     = "tenant"
)

// NewLogger creates a console logger at the given level. Components receive
// it through their constructors.
func NewLogger(level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		// FormatPrepare renders the custom parts as [SCOPE] trace tenant; so
		// that missing values print as nothing instead of <nil>.
		FormatPrepare: func(m map[string]any) error {
			bracket(m, scopeFieldName, "[%s]", "[app]")
			bracket(m, traceIDFieldName, "%s", "")
			bracket(m, tenantFieldName, "%s;", "")
			bracket(m, localScopeFieldName, "%s;", "")

			return nil
		},
		FieldsExclude: []string{
			scopeFieldName,
			traceIDFieldName,
			tenantFieldName,
			localScopeFieldName,
		},
		PartsOrder: []string{
			zerolog.LevelFieldName,
			zerolog.TimestampFieldName,
			traceIDFieldName,
			scopeFieldName,
			tenantFieldName,
			localScopeFieldName,
			zerolog.MessageFieldName,
		},
	}

	return zerolog.New(consoleWriter).
		Hook(ctxHook{}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func bracket(m map[string]any, key string, format string, fallback string) {
	if v, ok := m[key].(string); ok && v != "" {
		m[key] = fmt.Sprintf(format, v)
		return
	}

	m[key] = fallback
}

// WithScope tags a component logger with its name.
func WithScope(logger zerolog.Logger, scope string) zerolog.Logger {
	return logger.With().Str(scopeFieldName, scope).Logger()
}

func WithLocalScope(
	ctx context.Context,
	logger zerolog.Logger,
	localScope string,
) zerolog.Logger {
	return logger.With().Ctx(ctx).Str(localScopeFieldName, localScope).Logger()
}

// ctxHook copies request-scoped values from the event's context. It only
// runs for events built with .Ctx(ctx).
type ctxHook struct{}

func (h ctxHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	if traceID, ok := session.TraceIDFrom(ctx); ok {
		e.Str(traceIDFieldName, traceID)
	}

	if t, ok := session.TenantFrom(ctx); ok {
		e.Str(tenantFieldName, t.String())
	}
}

type joinableError interface {
	Unwrap() []error
}

// ErrorUnwrapped logs each error of a joined error separately.
func ErrorUnwrapped(logger *zerolog.Logger, msg string, err error) {
	logUnwrapped(logger, zerolog.ErrorLevel, msg, err)
}

func WarnUnwrapped(logger *zerolog.Logger, msg string, err error) {
	logUnwrapped(logger, zerolog.WarnLevel, msg, err)
}

func logUnwrapped(logger *zerolog.Logger, level zerolog.Level, msg string, err error) {
	var joinedErrs joinableError

	if errors.As(err, &joinedErrs) {
		for _, e := range joinedErrs.Unwrap() {
			logger.WithLevel(level).Err(e).Msg(msg)
		}

		return
	}

	logger.WithLevel(level).Err(err).Msg(msg)
}
