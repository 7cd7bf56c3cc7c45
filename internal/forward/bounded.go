package forward

import (
	"errors"
	"fmt"
)

// ErrEvictionFailed is returned when the oldest record could not be removed to
// make room. The queue's bookkeeping can no longer be trusted.
var ErrEvictionFailed = errors.New("evict oldest record")

// BoundedQueue admits records into a Queue while holding its size at or below
// maxSize by dropping the oldest record.
type BoundedQueue struct {
	q       Queue
	maxSize int
	flushAt int
	evicted int64
	onEvict func()
}

// NewBoundedQueue wraps q. flushAt is the size at which Enqueue reports that a
// flush is due; values outside (0, maxSize] are clamped to maxSize.
func NewBoundedQueue(q Queue, maxSize, flushAt int) *BoundedQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	if flushAt <= 0 || flushAt > maxSize {
		flushAt = maxSize
	}
	return &BoundedQueue{q: q, maxSize: maxSize, flushAt: flushAt}
}

// SetOnEvict sets a callback invoked after each eviction.
func (b *BoundedQueue) SetOnEvict(fn func()) { b.onEvict = fn }

// Enqueue evicts the oldest record if the queue is full, then appends data.
// It reports whether the queue reached the flush threshold.
func (b *BoundedQueue) Enqueue(data []byte) (bool, error) {
	if b.q.Size() >= b.maxSize {
		if err := b.q.Remove(); err != nil {
			return false, fmt.Errorf("%w: %w", ErrEvictionFailed, err)
		}
		b.evicted++
		if b.onEvict != nil {
			b.onEvict()
		}
	}
	if err := b.q.Add(data); err != nil {
		return false, err
	}
	return b.q.Size() >= b.flushAt, nil
}

// Evicted returns the number of records dropped for capacity.
func (b *BoundedQueue) Evicted() int64 { return b.evicted }

// Queue returns the wrapped queue.
func (b *BoundedQueue) Queue() Queue { return b.q }
