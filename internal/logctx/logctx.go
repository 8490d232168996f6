// Package logctx carries a zerolog logger through context.Context so that
// per-operation fields (dataset_id, chunk_index, op) follow a call down the
// stack without threading a logger parameter.
//
//	ctx = logctx.WithDataset(ctx, "ds-1")
//	logctx.FromContext(ctx).Debug().Msg("scanning")
package logctx

import (
	"context"

	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context logger, falling back to the global
// logging.L() when ctx is nil or carries none.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr adds a string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt adds an int field to the context logger.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}

// WithDataset tags the context logger with dataset_id.
func WithDataset(ctx context.Context, datasetID string) context.Context {
	return WithStr(ctx, "dataset_id", datasetID)
}

// WithOp tags the context logger with the operation name.
func WithOp(ctx context.Context, op string) context.Context {
	return WithStr(ctx, "op", op)
}
