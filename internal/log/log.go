package log

import (
	"context"

	"go.uber.org/zap"
)

/* unexported key type so ctx.Value(...) can not collide */
type contextKey struct{}

/* attach the process logger to a context */
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

/* logger from context, or the zap global if none was attached */
func FromContext(ctx context.Context) *zap.SugaredLogger {
	logger, ok := ctx.Value(contextKey{}).(*zap.SugaredLogger)
	if !ok || logger == nil {
		return zap.S()
	}

	return logger
}
