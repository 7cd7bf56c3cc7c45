package record

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the hard ceiling for a single serialized record.
const DefaultMaxBytes = 450_000

var (
	// ErrEmptyRecord is returned when a value serializes to nothing.
	ErrEmptyRecord = errors.New("record serialized to empty output")

	// ErrRecordTooLarge is returned when a serialized record exceeds the ceiling.
	ErrRecordTooLarge = errors.New("record exceeds size limit")

	// ErrNotObject is returned by Normalize for input that is not a JSON object.
	ErrNotObject = errors.New("record is not a JSON object")
)

// Codec turns an application event into the bytes stored in the queue.
type Codec interface {
	Encode(v any) ([]byte, error)
}

// Event is the generic event shape produced by the recording layer.
type Event struct {
	Type         string         `json:"type"`
	MessageID    string         `json:"messageId"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"userId,omitempty"`
	AnonymousID  string         `json:"anonymousId,omitempty"`
	Event        string         `json:"event,omitempty"`
	Name         string         `json:"name,omitempty"`
	GroupID      string         `json:"groupId,omitempty"`
	PreviousID   string         `json:"previousId,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	Traits       map[string]any `json:"traits,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Integrations map[string]any `json:"integrations,omitempty"`
}

// JSONCodec encodes values as compact JSON without HTML escaping.
type JSONCodec struct {
	MaxBytes int       // 0 means DefaultMaxBytes
	Redactor *Redactor // optional; applied by Normalize
}

// Encode serializes v and enforces the size ceiling.
func (c JSONCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return c.check(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Normalize validates a raw JSON object, scrubs it when a Redactor is set,
// fills in messageId and timestamp when absent, and re-encodes it with sorted
// keys.
func (c JSONCodec) Normalize(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyRecord
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	if c.Redactor != nil {
		c.Redactor.RedactObject(obj)
	}
	if id, _ := obj["messageId"].(string); id == "" {
		obj["messageId"] = uuid.NewString()
	}
	if ts, _ := obj["timestamp"].(string); ts == "" {
		obj["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return c.Encode(obj)
}

func (c JSONCodec) check(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyRecord
	}
	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrRecordTooLarge, len(data), limit)
	}
	return data, nil
}
