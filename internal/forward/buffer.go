package forward

import (
	"fmt"
	"sync"

	"github.com/ppiankov/spool/internal/ringfile"
)

// MemoryQueue is an in-memory Queue used when the queue file cannot be opened.
// Records do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	records [][]byte
	bytes   int
	seq     uint64
	closed  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Add appends a copy of data.
func (m *MemoryQueue) Add(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ringfile.ErrClosed
	}
	m.records = append(m.records, append([]byte(nil), data...))
	m.bytes += len(data)
	m.seq++
	return nil
}

// Peek returns the oldest record, or nil when empty.
func (m *MemoryQueue) Peek() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ringfile.ErrClosed
	}
	if len(m.records) == 0 {
		return nil, nil
	}
	return m.records[0], nil
}

// Remove drops the oldest record.
func (m *MemoryQueue) Remove() error {
	return m.RemoveN(1)
}

// RemoveN drops the n oldest records.
func (m *MemoryQueue) RemoveN(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ringfile.ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("cannot remove negative (%d) number of elements", n)
	}
	if n > len(m.records) {
		return fmt.Errorf("%w: remove %d of %d", ringfile.ErrNoSuchElement, n, len(m.records))
	}
	for _, r := range m.records[:n] {
		m.bytes -= len(r)
	}
	clear(m.records[:n])
	m.records = m.records[n:]
	m.seq++
	return nil
}

// ForEach visits records oldest first until fn returns false.
func (m *MemoryQueue) ForEach(fn func(data []byte) bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ringfile.ErrClosed
	}
	snapshot := m.records
	seq := m.seq
	m.mu.Unlock()

	for _, r := range snapshot {
		if !fn(r) {
			break
		}
		m.mu.Lock()
		changed := m.seq != seq
		m.mu.Unlock()
		if changed {
			return ringfile.ErrConcurrentModification
		}
	}
	return nil
}

// Size returns the number of queued records.
func (m *MemoryQueue) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Bytes returns the total payload size of queued records.
func (m *MemoryQueue) Bytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Close discards queued records.
func (m *MemoryQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	m.bytes = 0
	return nil
}
