package contextutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// NewFlushContext bounds how long a caller waits for a synchronous flush.
func NewFlushContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewSignalContext is cancelled on SIGINT or SIGTERM.
func NewSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
