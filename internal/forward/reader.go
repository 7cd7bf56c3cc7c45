package forward

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ppiankov/spool/internal/record"
)

const backpressureWait = 50 * time.Millisecond

// ReadStats counts what a LineReader did with its input.
type ReadStats struct {
	Lines    int
	Accepted int
	Rejected int
}

// LineReader reads newline-delimited JSON objects and hands normalized
// records to a sink.
type LineReader struct {
	codec  record.JSONCodec
	logger *slog.Logger
}

// NewLineReader creates a LineReader. A nil logger discards output.
func NewLineReader(codec record.JSONCodec, logger *slog.Logger) *LineReader {
	if logger == nil {
		logger = discardLogger()
	}
	return &LineReader{codec: codec, logger: logger}
}

// Feed reads src until EOF or ctx is cancelled. Invalid lines, lines too long
// to be a record, and records the sink rejects are counted and skipped. A sink
// reporting ErrBackpressure is retried until it accepts the record.
func (r *LineReader) Feed(ctx context.Context, src io.Reader, sink func([]byte) error) (ReadStats, error) {
	var stats ReadStats
	limit := r.codec.MaxBytes
	if limit <= 0 {
		limit = record.DefaultMaxBytes
	}
	// room for whitespace that Normalize strips
	maxLine := 2*limit + 1024

	br := bufio.NewReaderSize(src, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, tooLong, readErr := readLine(br, maxLine)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("read input: %w", readErr)
		}

		switch {
		case tooLong:
			stats.Lines++
			stats.Rejected++
			r.logger.Warn("skipping line", "line", stats.Lines, "error", record.ErrRecordTooLarge, "limit", maxLine)
		case len(line) > 0:
			stats.Lines++
			if err := r.handle(ctx, line, &stats, sink); err != nil {
				return stats, err
			}
		}

		if readErr != nil {
			return stats, nil
		}
	}
}

func (r *LineReader) handle(ctx context.Context, line []byte, stats *ReadStats, sink func([]byte) error) error {
	data, err := r.codec.Normalize(line)
	if err != nil {
		stats.Rejected++
		r.logger.Warn("skipping line", "line", stats.Lines, "error", err)
		return nil
	}
	if err := r.deliver(ctx, data, sink); err != nil {
		if errors.Is(err, ErrRecordRejected) {
			stats.Rejected++
			r.logger.Warn("skipping line", "line", stats.Lines, "error", err)
			return nil
		}
		return err
	}
	stats.Accepted++
	return nil
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed and discarded, reported by tooLong.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, err
	}
}

func (r *LineReader) deliver(ctx context.Context, data []byte, sink func([]byte) error) error {
	for {
		err := sink(data)
		if !errors.Is(err, ErrBackpressure) {
			return err
		}
		select {
		case <-time.After(backpressureWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
