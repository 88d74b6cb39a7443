package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/vladlpavlov/Pythagoras-sub001/internal/handlers"
	"github.com/vladlpavlov/Pythagoras-sub001/internal/model"
	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

// LogLevel defines the severity level for log messages.
type LogLevel string

const (
	// LogInfo is used for general informational messages.
	LogInfo LogLevel = "info"

	// LogWarn is used for diagnostics that never fail a call,
	// e.g. a cache replay that was slower than recomputing.
	LogWarn LogLevel = "warn"

	// LogError is used for error events that might still allow the application to continue running.
	LogError LogLevel = "error"

	// LogDebug is used for debugging messages with detailed internal information.
	LogDebug LogLevel = "debug"
)

// LogPayload is the payload structure for the log handler.
// It contains the log level, message string, and optional structured fields.
type LogPayload struct {
	Level   LogLevel
	Message string
	Fields  map[string]interface{}
}

// WithZapLogEffectHandler registers a fire-and-forget log handler using zap.Logger.
// The returned context carries the handler. The teardown drains pending messages,
// syncs the logger and returns the parent context.
func WithZapLogEffectHandler(
	ctx context.Context,
	bufferSize int,
	logger *zap.Logger,
) (context.Context, func() context.Context) {
	handler := handlers.NewFireAndForgetHandler(
		ctx,
		model.NewScopeConfig(bufferSize, 1),
		func(_ context.Context, payload LogPayload) {
			fields := make([]zap.Field, 0, len(payload.Fields))
			for _, k := range helper.SortedKeys(payload.Fields) {
				fields = append(fields, zap.Any(k, payload.Fields[k]))
			}

			switch payload.Level {
			case LogInfo:
				logger.Info(payload.Message, fields...)
			case LogWarn:
				logger.Warn(payload.Message, fields...)
			case LogError:
				logger.Error(payload.Message, fields...)
			case LogDebug:
				logger.Debug(payload.Message, fields...)
			default:
				logger.Info(payload.Message, fields...)
			}
		},
		func() {
			// syncing stdout/stderr returns EINVAL on some platforms; nothing to do about it
			_ = logger.Sync()
		},
	)
	ctxWith := context.WithValue(ctx, model.HandlerLog, handler)
	return ctxWith, func() context.Context {
		handler.Close()
		return ctx
	}
}

// LogEff emits a structured log through the handler found in ctx.
// Without a registered handler the message is discarded.
func LogEff(ctx context.Context, level LogLevel, msg string, fields map[string]interface{}) {
	handler, err := helper.GetTypedValueOf[*handlers.FireAndForgetHandler[LogPayload]](
		func() (any, error) {
			return getHandler(ctx)
		},
	)
	if err != nil {
		return
	}
	handler.Fire(ctx, LogPayload{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// Enabled reports whether ctx carries a log handler.
func Enabled(ctx context.Context) bool {
	_, err := getHandler(ctx)
	return err == nil
}

func getHandler(ctx context.Context) (any, error) {
	raw := ctx.Value(model.HandlerLog)
	if raw == nil {
		return nil, model.ErrNoHandler
	}
	return raw, nil
}
