package contextutil

import (
	"syscall"
	"testing"
	"time"
)

func TestNewFlushContext(t *testing.T) {
	ctx, cancel := NewFlushContext(5 * time.Second)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected context to have a deadline")
	}
	if time.Until(deadline) > 5*time.Second {
		t.Fatalf("deadline too far in the future: %v", deadline)
	}
	if time.Until(deadline) < 4*time.Second {
		t.Fatalf("deadline too close: %v", deadline)
	}
}

func TestNewFlushContext_Cancel(t *testing.T) {
	ctx, cancel := NewFlushContext(time.Minute)
	cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be done after cancel")
	}
}

func TestNewSignalContext(t *testing.T) {
	ctx, cancel := NewSignalContext()
	defer cancel()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}
