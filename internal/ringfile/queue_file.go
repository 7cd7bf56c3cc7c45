package ringfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DefaultMaxElementSize bounds a single element when no option overrides it.
const DefaultMaxElementSize = 64 << 20 // 64MB

// QueueFile is a durable FIFO of byte records backed by a single file used as a
// circular buffer. It is not safe for concurrent use; one goroutine must own it.
type QueueFile struct {
	path           string
	file           *os.File
	hdr            Header
	maxElementSize int
	onClose        func()
}

// Option configures a QueueFile.
type Option func(*QueueFile)

// WithMaxElementSize sets the largest element Add accepts.
func WithMaxElementSize(n int) Option {
	return func(q *QueueFile) {
		if n > 0 {
			q.maxElementSize = n
		}
	}
}

// Open opens the queue file at path, creating and initializing it if missing or empty.
func Open(path string, opts ...Option) (*QueueFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open " + path, Err: err}
	}
	q := &QueueFile{path: path, file: f, maxElementSize: DefaultMaxElementSize}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.load(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return q, nil
}

func (q *QueueFile) load() error {
	info, err := q.file.Stat()
	if err != nil {
		return &StorageError{Op: "stat", Err: err}
	}
	if info.Size() == 0 {
		return q.initialize()
	}
	if info.Size() < headerLength {
		return fmt.Errorf("%w; file size (%d) is shorter than the header", ErrCorrupt, info.Size())
	}
	buf := make([]byte, headerLength)
	if _, err := q.file.ReadAt(buf, 0); err != nil {
		return &StorageError{Op: "read header", Err: err}
	}
	h, err := pickHeader(buf, info.Size())
	if err != nil {
		return err
	}
	q.hdr = h
	return nil
}

func (q *QueueFile) initialize() error {
	if err := q.file.Truncate(initialLength); err != nil {
		return &StorageError{Op: "allocate", Err: err}
	}
	return q.commitBoth(Header{FileLength: initialLength, First: headerLength, Tail: headerLength})
}

// commit writes h into the next header slot and syncs. The in-memory header
// only changes once the slot is on stable storage.
func (q *QueueFile) commit(h Header) error {
	h.Seq = q.hdr.Seq + 1
	var buf [slotSize]byte
	h.encode(buf[:])
	if _, err := q.file.WriteAt(buf[:], slotOffset(h.Seq)); err != nil {
		return &StorageError{Op: "write header", Err: err}
	}
	if err := q.file.Sync(); err != nil {
		return &StorageError{Op: "sync header", Err: err}
	}
	q.hdr = h
	return nil
}

// commitBoth writes h into both slots so no older state survives.
func (q *QueueFile) commitBoth(h Header) error {
	if err := q.commit(h); err != nil {
		return err
	}
	return q.commit(h)
}

// Add appends data as the newest element. The payload is synced before the
// header commit, so a crash in between leaves the previous state intact.
func (q *QueueFile) Add(data []byte) error {
	if q.file == nil {
		return ErrClosed
	}
	if len(data) > q.maxElementSize {
		return fmt.Errorf("%w: %d bytes > %d", ErrCapacity, len(data), q.maxElementSize)
	}

	need := int64(elementHeaderLength + len(data))
	if err := q.expandIfNecessary(need); err != nil {
		return err
	}

	pos := q.hdr.Tail
	if q.hdr.Count == 0 {
		pos = headerLength
	}
	buf := make([]byte, need)
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[elementHeaderLength:], data)
	if err := q.ringWrite(pos, buf); err != nil {
		return &StorageError{Op: "write element", Err: err}
	}
	if err := q.file.Sync(); err != nil {
		return &StorageError{Op: "sync element", Err: err}
	}

	h := q.hdr
	if h.Count == 0 {
		h.First = pos
	}
	h.Count++
	h.Tail = q.wrap(pos + need)
	return q.commit(h)
}

// Peek returns the oldest element, or nil if the queue is empty.
func (q *QueueFile) Peek() ([]byte, error) {
	if q.file == nil {
		return nil, ErrClosed
	}
	if q.hdr.Count == 0 {
		return nil, nil
	}
	data, _, err := q.readElement(q.hdr.First)
	return data, err
}

// ForEach visits elements oldest first until fn returns false. The visitor
// must not modify the queue.
func (q *QueueFile) ForEach(fn func(data []byte) bool) error {
	if q.file == nil {
		return ErrClosed
	}
	seq := q.hdr.Seq
	pos := q.hdr.First
	for i := int64(0); i < q.hdr.Count; i++ {
		data, next, err := q.readElement(pos)
		if err != nil {
			return err
		}
		if !fn(data) {
			return nil
		}
		if q.hdr.Seq != seq {
			return ErrConcurrentModification
		}
		pos = next
	}
	return nil
}

// Remove drops the oldest element.
func (q *QueueFile) Remove() error {
	return q.RemoveN(1)
}

// RemoveN drops the n oldest elements in a single commit and zeroes their bytes.
// An error wrapping ErrEraseIncomplete means the removal was committed.
// Removing every element behaves as Clear and shrinks the file.
func (q *QueueFile) RemoveN(n int) error {
	if q.file == nil {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("cannot remove negative (%d) number of elements", n)
	}
	if n == 0 {
		return nil
	}
	if q.hdr.Count == 0 {
		return ErrNoSuchElement
	}
	if int64(n) > q.hdr.Count {
		return fmt.Errorf("%w: cannot remove %d elements, queue holds %d", ErrNoSuchElement, n, q.hdr.Count)
	}
	if int64(n) == q.hdr.Count {
		return q.Clear()
	}

	oldFirst := q.hdr.First
	pos := oldFirst
	var freed int64
	for i := 0; i < n; i++ {
		length, err := q.readLength(pos)
		if err != nil {
			return err
		}
		step := elementHeaderLength + int64(length)
		freed += step
		pos = q.wrap(pos + step)
	}

	h := q.hdr
	h.Count -= int64(n)
	h.First = pos
	if err := q.commit(h); err != nil {
		return err
	}
	if err := q.ringErase(oldFirst, freed); err != nil {
		return &StorageError{Op: "erase", Err: fmt.Errorf("%w: %w", ErrEraseIncomplete, err)}
	}
	return nil
}

// Clear removes every element and truncates the file to its initial length.
func (q *QueueFile) Clear() error {
	if q.file == nil {
		return ErrClosed
	}
	if err := q.commitBoth(Header{FileLength: initialLength, First: headerLength, Tail: headerLength}); err != nil {
		return err
	}
	if err := q.file.Truncate(initialLength); err != nil {
		return &StorageError{Op: "truncate", Err: fmt.Errorf("%w: %w", ErrEraseIncomplete, err)}
	}
	if _, err := q.file.WriteAt(make([]byte, initialLength-headerLength), headerLength); err != nil {
		return &StorageError{Op: "erase", Err: fmt.Errorf("%w: %w", ErrEraseIncomplete, err)}
	}
	return nil
}

// Size returns the number of committed elements.
func (q *QueueFile) Size() int { return int(q.hdr.Count) }

// FileLength returns the committed length of the backing file.
func (q *QueueFile) FileLength() int64 { return q.hdr.FileLength }

// Header returns a copy of the committed header.
func (q *QueueFile) Header() Header { return q.hdr }

// Path returns the path the queue was opened from.
func (q *QueueFile) Path() string { return q.path }

// Close releases the file handle. Closing twice is a no-op.
func (q *QueueFile) Close() error {
	if q.file == nil {
		return nil
	}
	err := q.file.Close()
	q.file = nil
	if q.onClose != nil {
		q.onClose()
		q.onClose = nil
	}
	return err
}

// UsedBytes returns the bytes occupied by elements in the data region.
func (q *QueueFile) UsedBytes() int64 {
	return usedBytes(q.hdr)
}

func usedBytes(h Header) int64 {
	if h.Count == 0 {
		return 0
	}
	if h.Tail > h.First {
		return h.Tail - h.First
	}
	return h.FileLength - h.First + h.Tail - headerLength
}

func (q *QueueFile) remainingBytes() int64 {
	return q.hdr.FileLength - headerLength - usedBytes(q.hdr)
}

// expandIfNecessary doubles the file until need bytes fit. If the live region
// wraps, the wrapped part is copied behind the old end of file so it becomes
// contiguous again, and only then is the new length committed.
func (q *QueueFile) expandIfNecessary(need int64) error {
	remaining := q.remainingBytes()
	if remaining >= need {
		return nil
	}

	oldLength := q.hdr.FileLength
	newLength := oldLength
	for remaining < need {
		remaining += newLength
		newLength <<= 1
	}

	if err := q.file.Truncate(newLength); err != nil {
		return &StorageError{Op: "grow", Err: err}
	}

	h := q.hdr
	h.FileLength = newLength
	if h.Count == 0 {
		h.First, h.Tail = headerLength, headerLength
	} else if h.Tail <= h.First {
		moved := h.Tail - headerLength
		if moved > 0 {
			src := io.NewSectionReader(q.file, headerLength, moved)
			if _, err := io.Copy(io.NewOffsetWriter(q.file, oldLength), src); err != nil {
				return &StorageError{Op: "relocate", Err: err}
			}
		}
		h.Tail = oldLength + moved
	}
	if err := q.file.Sync(); err != nil {
		return &StorageError{Op: "sync grow", Err: err}
	}
	return q.commit(h)
}

// wrap maps a logical position past the end of file back into the data region.
func (q *QueueFile) wrap(pos int64) int64 {
	if pos < q.hdr.FileLength {
		return pos
	}
	return headerLength + pos - q.hdr.FileLength
}

// ringWrite writes b at pos, splitting into at most two writes at end of file.
func (q *QueueFile) ringWrite(pos int64, b []byte) error {
	pos = q.wrap(pos)
	if pos+int64(len(b)) <= q.hdr.FileLength {
		_, err := q.file.WriteAt(b, pos)
		return err
	}
	before := q.hdr.FileLength - pos
	if _, err := q.file.WriteAt(b[:before], pos); err != nil {
		return err
	}
	_, err := q.file.WriteAt(b[before:], headerLength)
	return err
}

// ringRead fills b from pos, splitting into at most two reads at end of file.
func (q *QueueFile) ringRead(pos int64, b []byte) error {
	pos = q.wrap(pos)
	if pos+int64(len(b)) <= q.hdr.FileLength {
		_, err := q.file.ReadAt(b, pos)
		return err
	}
	before := q.hdr.FileLength - pos
	if _, err := q.file.ReadAt(b[:before], pos); err != nil {
		return err
	}
	_, err := q.file.ReadAt(b[before:], headerLength)
	return err
}

func (q *QueueFile) ringErase(pos, n int64) error {
	zeros := make([]byte, min(n, 4096))
	for n > 0 {
		chunk := min(n, int64(len(zeros)))
		if err := q.ringWrite(pos, zeros[:chunk]); err != nil {
			return err
		}
		pos = q.wrap(pos + chunk)
		n -= chunk
	}
	return nil
}

func (q *QueueFile) readLength(pos int64) (int, error) {
	var buf [elementHeaderLength]byte
	if err := q.ringRead(pos, buf[:]); err != nil {
		return 0, &StorageError{Op: "read element header", Err: err}
	}
	length := int64(binary.BigEndian.Uint32(buf[:]))
	if length > q.hdr.FileLength-headerLength-elementHeaderLength {
		return 0, fmt.Errorf("%w; element at %d has invalid length %d", ErrCorrupt, pos, length)
	}
	return int(length), nil
}

// readElement returns the payload at pos and the position of the next element.
func (q *QueueFile) readElement(pos int64) ([]byte, int64, error) {
	length, err := q.readLength(pos)
	if err != nil {
		return nil, 0, err
	}
	data := make([]byte, length)
	if err := q.ringRead(pos+elementHeaderLength, data); err != nil {
		return nil, 0, &StorageError{Op: "read element", Err: err}
	}
	return data, q.wrap(pos + elementHeaderLength + int64(length)), nil
}
