package forward

import (
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/spool/internal/ringfile"
)

func TestBoundedQueue_DropOldest(t *testing.T) {
	q, err := ringfile.Open(t.TempDir() + "/q")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Close() }()

	b := NewBoundedQueue(q, 3, 3)
	evictions := 0
	b.SetOnEvict(func() { evictions++ })

	var due []bool
	for _, s := range []string{"A", "B", "C", "D"} {
		flush, err := b.Enqueue([]byte(s))
		if err != nil {
			t.Fatal(err)
		}
		due = append(due, flush)
	}

	if got := strings.Join(collectQueue(t, q), ""); got != "BCD" {
		t.Errorf("queue = %q, want BCD", got)
	}
	if b.Evicted() != 1 || evictions != 1 {
		t.Errorf("evicted = %d (callback %d), want 1", b.Evicted(), evictions)
	}
	if due[0] || due[1] || !due[2] || !due[3] {
		t.Errorf("flush due = %v, want [false false true true]", due)
	}
}

func TestBoundedQueue_FlushThresholdBelowCap(t *testing.T) {
	b := NewBoundedQueue(NewMemoryQueue(), 10, 2)
	if due, _ := b.Enqueue([]byte("a")); due {
		t.Error("flush due after one record")
	}
	if due, _ := b.Enqueue([]byte("b")); !due {
		t.Error("flush not due at threshold")
	}
	if b.Evicted() != 0 {
		t.Errorf("evicted = %d below cap", b.Evicted())
	}
}

func TestBoundedQueue_ClampsThreshold(t *testing.T) {
	b := NewBoundedQueue(NewMemoryQueue(), 2, 50)
	if b.flushAt != 2 {
		t.Errorf("flushAt = %d, want clamp to 2", b.flushAt)
	}
	b = NewBoundedQueue(NewMemoryQueue(), 0, 0)
	if b.maxSize != DefaultMaxQueueSize || b.flushAt != DefaultMaxQueueSize {
		t.Errorf("defaults = %d/%d", b.maxSize, b.flushAt)
	}
}

func TestBoundedQueue_EvictionFailure(t *testing.T) {
	q := failingQueue{NewMemoryQueue()}
	b := NewBoundedQueue(q, 1, 1)
	if _, err := b.Enqueue([]byte("a")); err != nil {
		t.Fatal(err)
	}
	_, err := b.Enqueue([]byte("b"))
	if !errors.Is(err, ErrEvictionFailed) {
		t.Fatalf("err = %v, want ErrEvictionFailed", err)
	}
	if q.Size() != 1 {
		t.Errorf("Size() = %d, failed eviction must not admit", q.Size())
	}
}
