package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/logging"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// QueryLogger returns an interceptor that logs every operation at DEBUG level.
// Pass nil logger to disable logging.
func QueryLogger(logger *zap.Logger) tenant.Interceptor {
	return func(ctx context.Context, op tenant.Operation, next tenant.Next) (tenant.Result, error) {
		if logger == nil {
			return next(ctx, op)
		}

		start := time.Now()
		res, err := next(ctx, op)

		fields := []zap.Field{
			zap.String("entity", string(op.Kind)),
			zap.String("action", string(op.Action)),
			zap.Duration("duration", time.Since(start)),
		}
		if op.Action == tenant.ActionRaw {
			fields = append(fields, zap.String("sql", logging.SanitizeQuery(op.SQL)))
		}
		if err != nil {
			logger.Debug("Store operation failed", append(fields, zap.Error(err))...)
			return res, err
		}
		logger.Debug("Store operation", append(fields, zap.Int64("count", res.Count))...)
		return res, nil
	}
}
