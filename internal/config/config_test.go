package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/spool/internal/forward"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `queue:
  dir: /var/lib/spool
  name: analytics
  max_size: 500
  max_record_bytes: 32KB
flush:
  queue_size: 10
  interval: 15s
  max_batch_bytes: "100000"
  retry_initial: 2s
  retry_max: 1m
transport:
  target: https://collector.example.com
  write_key: wk_live
  compression: zstd
  timeout: 5s
  dial_check: true
envelope:
  meta:
    library: spool
    version: 2
metrics:
  addr: ":9102"
verbose: true
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueuePath() != "/var/lib/spool/analytics" {
		t.Errorf("QueuePath() = %q", cfg.QueuePath())
	}
	if cfg.Transport.Target != "https://collector.example.com" || cfg.Transport.WriteKey != "wk_live" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Metrics.Addr != ":9102" || !cfg.Verbose {
		t.Errorf("Metrics.Addr = %q, Verbose = %v", cfg.Metrics.Addr, cfg.Verbose)
	}

	dc, err := cfg.DispatcherConfig()
	if err != nil {
		t.Fatal(err)
	}
	if dc.MaxQueueSize != 500 || dc.FlushQueueSize != 10 {
		t.Errorf("sizes = %d/%d", dc.MaxQueueSize, dc.FlushQueueSize)
	}
	if dc.MaxRecordBytes != 32*1024 || dc.MaxBatchBytes != 100000 {
		t.Errorf("bytes = %d/%d", dc.MaxRecordBytes, dc.MaxBatchBytes)
	}
	if dc.FlushInterval != 15*time.Second || dc.RetryInitial != 2*time.Second || dc.RetryMax != time.Minute {
		t.Errorf("durations = %v/%v/%v", dc.FlushInterval, dc.RetryInitial, dc.RetryMax)
	}
	if dc.Metadata["library"] != "spool" {
		t.Errorf("Metadata = %v", dc.Metadata)
	}

	to, err := cfg.TransportOptions()
	if err != nil {
		t.Fatal(err)
	}
	if to.Compression != forward.CompressionZstd || to.Timeout != 5*time.Second || !to.DialCheck {
		t.Errorf("TransportOptions = %+v", to)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadReturnsEmptyOnMissingFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Transport.Target != "" {
		t.Errorf("Transport.Target = %q, want empty", cfg.Transport.Target)
	}
	dc, err := cfg.DispatcherConfig()
	if err != nil {
		t.Fatal(err)
	}
	if dc.MaxQueueSize != 0 || dc.FlushInterval != 0 || dc.MaxBatchBytes != 0 || dc.Metadata != nil {
		t.Errorf("DispatcherConfig() = %+v, want zero", dc)
	}
}

func TestLoadCWDOverridesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".spool"), 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(home, ".spool", "config.yaml"),
		[]byte("transport:\n  target: home:1\n  write_key: homekey\n"), 0o644)

	cwd := t.TempDir()
	t.Chdir(cwd)
	_ = os.WriteFile(filepath.Join(cwd, ".spool.yaml"), []byte("transport:\n  target: cwd:2\n"), 0o644)

	cfg := Load()
	if cfg.Transport.Target != "cwd:2" {
		t.Errorf("Target = %q, want cwd:2", cfg.Transport.Target)
	}
	if cfg.Transport.WriteKey != "homekey" {
		t.Errorf("WriteKey = %q, want homekey", cfg.Transport.WriteKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "transport:\n  target: file:1\nqueue:\n  max_size: 10\n")
	t.Setenv("SPOOL_TARGET", "env:9")
	t.Setenv("SPOOL_QUEUE_MAX_SIZE", "42")
	t.Setenv("SPOOL_FLUSH_INTERVAL", "1m")
	t.Setenv("SPOOL_VERBOSE", "1")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Target != "env:9" {
		t.Errorf("Target = %q", cfg.Transport.Target)
	}
	if cfg.Queue.MaxSize != 42 {
		t.Errorf("MaxSize = %d", cfg.Queue.MaxSize)
	}
	if cfg.Flush.Interval != "1m" || !cfg.Verbose {
		t.Errorf("Interval = %q, Verbose = %v", cfg.Flush.Interval, cfg.Verbose)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		tr   bool
	}{
		{"interval", Config{Flush: FlushConfig{Interval: "soon"}}, false},
		{"batch bytes", Config{Flush: FlushConfig{MaxBatchBytes: "lots"}}, false},
		{"record bytes", Config{Queue: QueueConfig{MaxRecordBytes: "1TB"}}, false},
		{"compression", Config{Transport: TransportConfig{Compression: "lz4"}}, true},
		{"timeout", Config{Transport: TransportConfig{Timeout: "-"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.tr {
				_, err = tt.cfg.TransportOptions()
			} else {
				_, err = tt.cfg.DispatcherConfig()
			}
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := map[string]int64{
		"475000": 475000,
		"450KB":  450 * 1024,
		"1.5MB":  3 << 19,
		"2 gb":   2 << 30,
		"10B":    10,
	}
	for in, want := range tests {
		got, err := ParseByteSize(in)
		if err != nil || got != want {
			t.Errorf("ParseByteSize(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
}

func TestRedactor(t *testing.T) {
	off := &Config{}
	if r, err := off.Redactor(); err != nil || r != nil {
		t.Errorf("Redactor() with redaction off = %v, %v", r, err)
	}

	path := writeConfig(t, "redact:\n  patterns: email, ssn\ningest:\n  addr: \":8088\"\n")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.Addr != ":8088" {
		t.Errorf("Ingest.Addr = %q", cfg.Ingest.Addr)
	}
	r, err := cfg.Redactor()
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Redact("mail a@b.io ssn 123-45-6789"); got != "mail [REDACTED:email] ssn [REDACTED:ssn]" {
		t.Errorf("Redact() = %q", got)
	}

	custom := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(custom, []byte("- name: ticket\n  pattern: \"TCK-[0-9]+\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fileOnly := &Config{Redact: RedactConfig{File: custom}}
	r, err = fileOnly.Redactor()
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Redact("TCK-42 from a@b.io"); got != "[REDACTED:ticket] from a@b.io" {
		t.Errorf("file-only Redact() = %q", got)
	}

	bad := &Config{Redact: RedactConfig{Patterns: "email,iban"}}
	if _, err := bad.Redactor(); err == nil {
		t.Error("expected error for unknown pattern")
	}
}

func TestRedactEnv(t *testing.T) {
	path := writeConfig(t, "verbose: false\n")
	t.Setenv("SPOOL_REDACT", "all")
	t.Setenv("SPOOL_INGEST_ADDR", "127.0.0.1:9000")
	t.Setenv("SPOOL_INGEST_WRITE_KEY", "wk")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redact.Patterns != "all" || cfg.Ingest.Addr != "127.0.0.1:9000" || cfg.Ingest.WriteKey != "wk" {
		t.Errorf("Redact = %+v, Ingest = %+v", cfg.Redact, cfg.Ingest)
	}
	r, err := cfg.Redactor()
	if err != nil || len(r.PatternNames()) != 7 {
		t.Errorf("Redactor() = %v, %v", r, err)
	}
}
