package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/record"
)

// Config holds persistent defaults loaded from config files.
type Config struct {
	Queue     QueueConfig     `yaml:"queue"`
	Flush     FlushConfig     `yaml:"flush"`
	Transport TransportConfig `yaml:"transport"`
	Envelope  EnvelopeConfig  `yaml:"envelope"`
	Redact    RedactConfig    `yaml:"redact"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Verbose   bool            `yaml:"verbose"`
}

// QueueConfig locates the queue file and bounds its contents.
type QueueConfig struct {
	Dir            string `yaml:"dir"`
	Name           string `yaml:"name"`
	MaxSize        int    `yaml:"max_size"`
	MaxRecordBytes string `yaml:"max_record_bytes"`
}

// FlushConfig controls when and how much is flushed.
type FlushConfig struct {
	QueueSize     int    `yaml:"queue_size"`
	Interval      string `yaml:"interval"`
	MaxBatchBytes string `yaml:"max_batch_bytes"`
	RetryInitial  string `yaml:"retry_initial"`
	RetryMax      string `yaml:"retry_max"`
}

// TransportConfig describes the delivery endpoint.
type TransportConfig struct {
	Target      string `yaml:"target"`
	WriteKey    string `yaml:"write_key"`
	Compression string `yaml:"compression"`
	Timeout     string `yaml:"timeout"`
	DialCheck   bool   `yaml:"dial_check"`
	Insecure    bool   `yaml:"insecure"`
}

// EnvelopeConfig holds static batch metadata.
type EnvelopeConfig struct {
	Meta map[string]any `yaml:"meta"`
}

// RedactConfig selects PII patterns scrubbed from incoming records.
// Patterns is "", "all", or a comma-separated list of built-in names.
type RedactConfig struct {
	Patterns string `yaml:"patterns"`
	File     string `yaml:"file"`
}

// IngestConfig configures the HTTP ingest listener. An empty Addr disables it.
type IngestConfig struct {
	Addr     string `yaml:"addr"`
	WriteKey string `yaml:"write_key"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads config from ~/.spool/config.yaml then CWD .spool.yaml.
// CWD config values override home config. Missing files are not errors.
// Environment variables (SPOOL_*) override config file values.
func Load() *Config {
	cfg := &Config{}

	// home config
	if home, err := os.UserHomeDir(); err == nil {
		_ = loadFile(filepath.Join(home, ".spool", "config.yaml"), cfg)
	}

	// CWD config overrides
	_ = loadFile(".spool.yaml", cfg)

	// env overrides
	applyEnv(cfg)

	return cfg
}

// LoadFrom reads config from a specific path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPOOL_QUEUE_DIR"); v != "" {
		cfg.Queue.Dir = v
	}
	if v := os.Getenv("SPOOL_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("SPOOL_QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxSize = n
		}
	}
	if v := os.Getenv("SPOOL_MAX_RECORD_BYTES"); v != "" {
		cfg.Queue.MaxRecordBytes = v
	}
	if v := os.Getenv("SPOOL_FLUSH_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Flush.QueueSize = n
		}
	}
	if v := os.Getenv("SPOOL_FLUSH_INTERVAL"); v != "" {
		cfg.Flush.Interval = v
	}
	if v := os.Getenv("SPOOL_MAX_BATCH_BYTES"); v != "" {
		cfg.Flush.MaxBatchBytes = v
	}
	if v := os.Getenv("SPOOL_TARGET"); v != "" {
		cfg.Transport.Target = v
	}
	if v := os.Getenv("SPOOL_WRITE_KEY"); v != "" {
		cfg.Transport.WriteKey = v
	}
	if v := os.Getenv("SPOOL_COMPRESSION"); v != "" {
		cfg.Transport.Compression = v
	}
	if v := os.Getenv("SPOOL_TIMEOUT"); v != "" {
		cfg.Transport.Timeout = v
	}
	if v := os.Getenv("SPOOL_REDACT"); v != "" {
		cfg.Redact.Patterns = v
	}
	if v := os.Getenv("SPOOL_INGEST_ADDR"); v != "" {
		cfg.Ingest.Addr = v
	}
	if v := os.Getenv("SPOOL_INGEST_WRITE_KEY"); v != "" {
		cfg.Ingest.WriteKey = v
	}
	if v := os.Getenv("SPOOL_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SPOOL_VERBOSE"); v != "" {
		cfg.Verbose = strings.EqualFold(v, "true") || v == "1"
	}
}

// QueuePath returns the queue file location. It defaults to
// ~/.spool/queue/<name>, with name defaulting to "events".
func (c *Config) QueuePath() string {
	name := c.Queue.Name
	if name == "" {
		name = "events"
	}
	dir := c.Queue.Dir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".spool", "queue")
		} else {
			dir = filepath.Join(os.TempDir(), "spool")
		}
	}
	return filepath.Join(dir, name)
}

// DispatcherConfig converts the flush and queue sections. Unset values are
// left zero so the dispatcher applies its defaults.
func (c *Config) DispatcherConfig() (forward.Config, error) {
	out := forward.Config{
		MaxQueueSize:   c.Queue.MaxSize,
		FlushQueueSize: c.Flush.QueueSize,
		Metadata:       c.Envelope.Meta,
	}
	var err error
	if out.MaxRecordBytes, err = optionalSize("queue.max_record_bytes", c.Queue.MaxRecordBytes); err != nil {
		return forward.Config{}, err
	}
	if out.MaxBatchBytes, err = optionalSize("flush.max_batch_bytes", c.Flush.MaxBatchBytes); err != nil {
		return forward.Config{}, err
	}
	if out.FlushInterval, err = optionalDuration("flush.interval", c.Flush.Interval); err != nil {
		return forward.Config{}, err
	}
	if out.RetryInitial, err = optionalDuration("flush.retry_initial", c.Flush.RetryInitial); err != nil {
		return forward.Config{}, err
	}
	if out.RetryMax, err = optionalDuration("flush.retry_max", c.Flush.RetryMax); err != nil {
		return forward.Config{}, err
	}
	return out, nil
}

// TransportOptions converts the transport section.
func (c *Config) TransportOptions() (forward.TransportOptions, error) {
	comp, err := forward.ParseCompression(c.Transport.Compression)
	if err != nil {
		return forward.TransportOptions{}, fmt.Errorf("transport.compression: %w", err)
	}
	timeout, err := optionalDuration("transport.timeout", c.Transport.Timeout)
	if err != nil {
		return forward.TransportOptions{}, err
	}
	return forward.TransportOptions{
		WriteKey:    c.Transport.WriteKey,
		Compression: comp,
		Timeout:     timeout,
		DialCheck:   c.Transport.DialCheck,
		Insecure:    c.Transport.Insecure,
	}, nil
}

// Redactor builds the configured PII redactor. It returns nil when redaction
// is off.
func (c *Config) Redactor() (*record.Redactor, error) {
	enabled, names := record.ParseRedactList(c.Redact.Patterns)
	if !enabled && c.Redact.File == "" {
		return nil, nil
	}
	r := &record.Redactor{}
	if enabled {
		var err error
		if r, err = record.NewRedactor(names); err != nil {
			return nil, fmt.Errorf("redact.patterns: %w", err)
		}
	}
	if c.Redact.File != "" {
		if err := r.LoadPatterns(c.Redact.File); err != nil {
			return nil, fmt.Errorf("redact.file: %w", err)
		}
	}
	return r, nil
}

func optionalDuration(field, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func optionalSize(field, s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := ParseByteSize(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return int(n), nil
}

var byteSizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(KB|MB|GB|B)?$`)

// ParseByteSize parses sizes such as "475000", "450KB" or "1.5MB".
func ParseByteSize(s string) (int64, error) {
	m := byteSizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	switch strings.ToUpper(m[2]) {
	case "GB":
		val *= 1 << 30
	case "MB":
		val *= 1 << 20
	case "KB":
		val *= 1 << 10
	}
	return int64(val), nil
}
