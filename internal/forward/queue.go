package forward

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/spool/internal/ringfile"
)

// Queue is a FIFO of serialized records. It is not safe for concurrent
// mutation; the Dispatcher owns it from a single goroutine.
type Queue interface {
	Add(data []byte) error
	Peek() ([]byte, error)
	Remove() error
	RemoveN(n int) error
	ForEach(fn func(data []byte) bool) error
	Size() int
	Close() error
}

var (
	_ Queue = (*ringfile.QueueFile)(nil)
	_ Queue = (*MemoryQueue)(nil)
)

// OpenQueue opens the queue file at path through reg. A corrupt file is
// deleted and recreated. If the file still cannot be opened, an in-memory
// queue is returned instead and the failure is logged. Opening a path that is
// already open in this process is always an error.
func OpenQueue(reg *ringfile.Registry, path string, logger *slog.Logger, opts ...ringfile.Option) (Queue, error) {
	if logger == nil {
		logger = discardLogger()
	}
	q, err := reg.Open(path, opts...)
	if err == nil {
		return q, nil
	}
	if errors.Is(err, ringfile.ErrAlreadyOpen) {
		return nil, err
	}

	if errors.Is(err, ringfile.ErrCorrupt) {
		logger.Warn("queue file corrupt, recreating", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove corrupt queue %s: %w", path, rmErr)
		}
		q, err = reg.Open(path, opts...)
		if err == nil {
			return q, nil
		}
	}

	logger.Error("queue file unavailable, buffering in memory", "path", path, "error", err)
	return NewMemoryQueue(), nil
}
