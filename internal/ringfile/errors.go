package ringfile

import "errors"

var (
	// ErrCorrupt is returned when no consistent header can be read from a queue file.
	ErrCorrupt = errors.New("file is corrupt")

	// ErrNoSuchElement is returned when removing from an empty queue.
	ErrNoSuchElement = errors.New("no such element")

	// ErrCapacity is returned when an element exceeds the maximum element size.
	ErrCapacity = errors.New("element exceeds maximum size")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue file is closed")

	// ErrAlreadyOpen is returned by Registry.Open for a path that is already open.
	ErrAlreadyOpen = errors.New("queue file already open")

	// ErrEraseIncomplete is returned after a successful removal whose freed
	// bytes could not be zeroed. The removal itself is committed.
	ErrEraseIncomplete = errors.New("removed elements not erased")

	// ErrConcurrentModification is returned by ForEach when the visitor mutates the queue.
	ErrConcurrentModification = errors.New("queue modified during iteration")
)

// StorageError reports a failed read, write or sync against the backing file.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }
