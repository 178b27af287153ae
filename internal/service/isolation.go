package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
)

// runIsolated runs fn in its own goroutine under its own deadline. A panic
// in fn becomes ErrPassPanicked and an expired deadline ErrPassTimeout;
// neither reaches the caller's goroutine. Passes share only the database
// pool, which discards a broken connection instead of handing it on.
func runIsolated(ctx context.Context, timeout time.Duration, log *zap.Logger, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("scheduling pass panicked", zap.Any("panic", r), zap.Stack("stack"))
				done <- fmt.Errorf("%w: %v", appErrors.ErrPassPanicked, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", appErrors.ErrPassTimeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("scheduling pass timed out", zap.Duration("timeout", timeout))
			return appErrors.ErrPassTimeout
		}
		return ctx.Err()
	}
}
