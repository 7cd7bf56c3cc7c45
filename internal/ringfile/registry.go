package ringfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Registry guarantees that a queue file is open at most once per registry.
// Share one Registry across every component of a process that opens queues.
type Registry struct {
	mu   sync.Mutex
	open map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]struct{})}
}

// Open opens path unless it is already held open through this registry.
// Closing the returned queue releases the path.
func (r *Registry) Open(path string, opts ...Option) (*QueueFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[abs]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, abs)
	}
	q, err := Open(abs, opts...)
	if err != nil {
		return nil, err
	}
	r.open[abs] = struct{}{}
	q.onClose = func() { r.release(abs) }
	return q, nil
}

// IsOpen reports whether path is currently held open through this registry.
func (r *Registry) IsOpen(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[abs]
	return ok
}

func (r *Registry) release(abs string) {
	r.mu.Lock()
	delete(r.open, abs)
	r.mu.Unlock()
}

// Inspect reads the committed header of a queue file without opening it for writing.
func Inspect(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, &StorageError{Op: "open " + path, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Header{}, &StorageError{Op: "stat", Err: err}
	}
	if info.Size() < headerLength {
		return Header{}, fmt.Errorf("%w; file size (%d) is shorter than the header", ErrCorrupt, info.Size())
	}
	buf := make([]byte, headerLength)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Header{}, &StorageError{Op: "read header", Err: err}
	}
	return pickHeader(buf, info.Size())
}

// UsedBytes returns the bytes occupied by elements under h.
func (h Header) UsedBytes() int64 {
	return usedBytes(h)
}
