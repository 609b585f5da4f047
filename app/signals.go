// app/signals.go
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// WithShutdownSignals returns a context cancelled on SIGINT or SIGTERM.
// The pipeline checks it between batches, so an interrupted run keeps every
// batch written so far.
func WithShutdownSignals(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			if logger != nil {
				logger.Warn("interrupt received; stopping before the next batch", zap.Any("signal", sig))
			}
			cancel()
		case <-ctx.Done():
		}
		// sigCh is not closed: a signal delivered just before Stop could
		// still be in flight.
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
