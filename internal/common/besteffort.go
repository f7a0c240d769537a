package common

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BestEffort runs a transient signal (typing, presence broadcast) and swallows
// any error or panic it produces. Failures are logged at warn level only.
func BestEffort(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("best-effort operation panicked",
				zap.String("op", op),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		log.Warn("best-effort operation failed", zap.String("op", op), zap.Error(err))
	}
}
