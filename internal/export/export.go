package export

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Format identifies the output format.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSONL, FormatParquet:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format %q: expected jsonl or parquet", s)
	}
}

// Source yields queued records oldest first.
type Source interface {
	ForEach(fn func(data []byte) bool) error
}

// Entry is one exported record with the fields lifted out of it.
type Entry struct {
	Index     int64
	Type      string
	MessageID string
	Timestamp string
	Raw       []byte
}

// Writer writes entries to an output format.
type Writer interface {
	Write(Entry) error
	Close() error
}

// Progress is called periodically with the number of records written.
type Progress func(written int64)

// Export writes every record of src to dst.
func Export(src Source, dst string, format Format, progress Progress) (int64, error) {
	w, err := newWriter(dst, format)
	if err != nil {
		return 0, fmt.Errorf("create writer: %w", err)
	}

	var written int64
	var werr error
	err = src.ForEach(func(data []byte) bool {
		if werr = w.Write(NewEntry(written, data)); werr != nil {
			return false
		}
		written++
		if progress != nil && written%10000 == 0 {
			progress(written)
		}
		return true
	})
	if err == nil {
		err = werr
	}
	if err != nil {
		_ = w.Close()
		return written, fmt.Errorf("export record %d: %w", written, err)
	}
	if err := w.Close(); err != nil {
		return written, fmt.Errorf("close writer: %w", err)
	}
	return written, nil
}

// NewEntry builds an Entry for the record at index. Records that are not
// JSON objects keep only the raw bytes.
func NewEntry(index int64, raw []byte) Entry {
	var head struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &head)
	return Entry{
		Index:     index,
		Type:      head.Type,
		MessageID: head.MessageID,
		Timestamp: head.Timestamp,
		Raw:       raw,
	}
}

func newWriter(path string, format Format) (Writer, error) {
	switch format {
	case FormatJSONL:
		return newJSONLWriter(path)
	case FormatParquet:
		return newParquetWriter(path)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
