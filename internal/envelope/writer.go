package envelope

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
)

const (
	DefaultMetaKey      = "meta"
	DefaultBatchKey     = "batch"
	DefaultTimestampKey = "sentAt"

	// TimestampFormat is ISO-8601 with millisecond precision.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

var (
	// ErrEmptyBatch is returned when an envelope is finished without any records.
	ErrEmptyBatch = errors.New("batch contains no records")

	// ErrState is returned when envelope parts are written out of order.
	ErrState = errors.New("envelope written out of order")
)

type state int

const (
	stateInit state = iota
	stateObject
	stateArray
	stateAfterArray
	stateDone
)

// Writer streams one batch document of the form
// {"meta":{...},"batch":[<record>,...],"sentAt":"..."} to an output sink.
// Records are already-serialized JSON and are copied verbatim. Nothing reaches
// the sink until the first record is written.
type Writer struct {
	dst      *bufio.Writer
	pending  bytes.Buffer
	started  bool
	metaKey  []byte
	batchKey []byte
	tsKey    []byte
	now      func() time.Time

	state state
	count int
	bytes int
	err   error
}

// Option configures a Writer.
type Option func(*Writer)

// WithKeys renames the metadata, batch and timestamp fields.
func WithKeys(meta, batch, timestamp string) Option {
	return func(w *Writer) {
		w.metaKey = quoteKey(meta)
		w.batchKey = quoteKey(batch)
		w.tsKey = quoteKey(timestamp)
	}
}

// WithClock overrides the clock used for the send timestamp.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a Writer emitting to dst.
func NewWriter(dst io.Writer, opts ...Option) *Writer {
	w := &Writer{
		dst:      bufio.NewWriter(dst),
		metaKey:  quoteKey(DefaultMetaKey),
		batchKey: quoteKey(DefaultBatchKey),
		tsKey:    quoteKey(DefaultTimestampKey),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func quoteKey(k string) []byte {
	b, _ := json.Marshal(k)
	return b
}

// BeginObject opens the envelope.
func (w *Writer) BeginObject() error {
	if w.state != stateInit {
		return fmt.Errorf("%w: begin object", ErrState)
	}
	w.write([]byte{'{'})
	w.state = stateObject
	return w.err
}

// Metadata writes the metadata object. An empty map writes nothing.
func (w *Writer) Metadata(meta map[string]any) error {
	if w.state != stateObject {
		return fmt.Errorf("%w: metadata", ErrState)
	}
	if len(meta) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	w.write(w.metaKey)
	w.write([]byte{':'})
	w.write(bytes.TrimRight(buf.Bytes(), "\n"))
	w.write([]byte{','})
	return w.err
}

// BeginBatchArray opens the records array.
func (w *Writer) BeginBatchArray() error {
	if w.state != stateObject {
		return fmt.Errorf("%w: begin batch array", ErrState)
	}
	w.write(w.batchKey)
	w.write([]byte{':', '['})
	w.state = stateArray
	return w.err
}

// Record appends one pre-serialized record.
func (w *Writer) Record(raw []byte) error {
	if w.state != stateArray {
		return fmt.Errorf("%w: record", ErrState)
	}
	w.start()
	if w.count > 0 {
		w.write([]byte{','})
	}
	w.write(raw)
	w.count++
	w.bytes += len(raw)
	return w.err
}

// EndBatchArray closes the records array. It fails with ErrEmptyBatch if no
// record was written.
func (w *Writer) EndBatchArray() error {
	if w.state != stateArray {
		return fmt.Errorf("%w: end batch array", ErrState)
	}
	if w.count == 0 {
		return ErrEmptyBatch
	}
	w.write([]byte{']'})
	w.state = stateAfterArray
	return w.err
}

// EndObject writes the send timestamp and closes the envelope.
func (w *Writer) EndObject() error {
	if w.state != stateAfterArray {
		return fmt.Errorf("%w: end object", ErrState)
	}
	w.write([]byte{','})
	w.write(w.tsKey)
	w.write([]byte{':', '"'})
	w.write([]byte(w.now().UTC().Format(TimestampFormat)))
	w.write([]byte{'"', '}'})
	w.state = stateDone
	return w.err
}

// Close flushes buffered output. It fails with ErrEmptyBatch if no record was
// written, in which case nothing has been written to the sink.
func (w *Writer) Close() error {
	if w.count == 0 {
		return ErrEmptyBatch
	}
	if w.err != nil {
		return w.err
	}
	if w.state != stateDone {
		return fmt.Errorf("%w: close before end object", ErrState)
	}
	return w.dst.Flush()
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.count }

// RecordBytes returns the total size of records written, excluding separators.
func (w *Writer) RecordBytes() int { return w.bytes }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if !w.started {
		w.pending.Write(p)
		return
	}
	if _, err := w.dst.Write(p); err != nil {
		w.err = err
	}
}

// start releases the buffered prefix to the sink once the first record arrives.
func (w *Writer) start() {
	if w.started || w.err != nil {
		return
	}
	w.started = true
	if _, err := w.dst.Write(w.pending.Bytes()); err != nil {
		w.err = err
	}
	w.pending.Reset()
}

// Encode writes a complete envelope for records in one call.
func Encode(dst io.Writer, meta map[string]any, records [][]byte, opts ...Option) error {
	if len(records) == 0 {
		return ErrEmptyBatch
	}
	w := NewWriter(dst, opts...)
	if err := w.BeginObject(); err != nil {
		return err
	}
	if err := w.Metadata(meta); err != nil {
		return err
	}
	if err := w.BeginBatchArray(); err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Record(r); err != nil {
			return err
		}
	}
	if err := w.EndBatchArray(); err != nil {
		return err
	}
	if err := w.EndObject(); err != nil {
		return err
	}
	return w.Close()
}
