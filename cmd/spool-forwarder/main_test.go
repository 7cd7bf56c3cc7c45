package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/config"
	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/ringfile"
)

type collector struct {
	mu      sync.Mutex
	status  int
	records int
	calls   int
	seen    []string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.status != 0 {
		w.WriteHeader(c.status)
		return
	}
	var body struct {
		Batch []json.RawMessage `json:"batch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.records += len(body.Batch)
	for _, r := range body.Batch {
		c.seen = append(c.seen, string(r))
	}
	w.WriteHeader(http.StatusOK)
}

func testConfig(t *testing.T, target string) *config.Config {
	t.Helper()
	return &config.Config{
		Queue:     config.QueueConfig{Dir: filepath.Join(t.TempDir(), "queue"), Name: "events"},
		Transport: config.TransportConfig{Target: target},
	}
}

func quietLogger() *slog.Logger { return cli.NewLogger(io.Discard, false) }

const input = `{"type":"track","event":"signup"}
{"type":"track","event":"login"}
garbage
{"type":"page","name":"home"}
`

func TestRunDeliversInput(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	if err := run(context.Background(), cfg, strings.NewReader(input), quietLogger()); err != nil {
		t.Fatal(err)
	}
	if c.records != 3 {
		t.Errorf("server received %d records, want 3", c.records)
	}
	h, err := ringfile.Inspect(cfg.QueuePath())
	if err != nil {
		t.Fatal(err)
	}
	if h.Count != 0 {
		t.Errorf("queue holds %d records after delivery", h.Count)
	}
}

func TestRunKeepsRecordsWhenEndpointFails(t *testing.T) {
	c := &collector{status: http.StatusInternalServerError}
	srv := httptest.NewServer(c)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	if err := run(context.Background(), cfg, strings.NewReader(input), quietLogger()); err != nil {
		t.Fatal(err)
	}
	if c.calls == 0 {
		t.Error("expected a delivery attempt")
	}
	h, err := ringfile.Inspect(cfg.QueuePath())
	if err != nil {
		t.Fatal(err)
	}
	if h.Count != 3 {
		t.Errorf("queue holds %d records, want 3 kept for the next run", h.Count)
	}

	// next run delivers the backlog
	c.mu.Lock()
	c.status = 0
	c.mu.Unlock()
	if err := run(context.Background(), cfg, strings.NewReader(""), quietLogger()); err != nil {
		t.Fatal(err)
	}
	if c.records != 3 {
		t.Errorf("backlog delivered %d records, want 3", c.records)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(&collector{})
	defer srv.Close()

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, testConfig(t, srv.URL), pr, quietLogger())
	}()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunRejectsBadTarget(t *testing.T) {
	err := run(context.Background(), testConfig(t, "s3://"), strings.NewReader(""), quietLogger())
	if code := cli.ExitCode(cli.Classify(err)); code != cli.ExitUsage {
		t.Errorf("exit code = %d, want %d (%v)", code, cli.ExitUsage, err)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := forward.NewMetrics(reg)
	m.RecordsEnqueued.Add(2)

	h := metricsHandler(reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "spool_records_enqueued_total 2") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d", rec.Code)
	}
}

func TestRunRedactsInput(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Redact.Patterns = "email"
	in := `{"type":"identify","userId":"alice@example.com","traits":{"plan":"pro"}}` + "\n"
	if err := run(context.Background(), cfg, strings.NewReader(in), quietLogger()); err != nil {
		t.Fatal(err)
	}
	if len(c.seen) != 1 {
		t.Fatalf("server saw %d records", len(c.seen))
	}
	if strings.Contains(c.seen[0], "alice@example.com") || !strings.Contains(c.seen[0], "[REDACTED:email]") {
		t.Errorf("record not redacted: %s", c.seen[0])
	}

	cfg.Redact.Patterns = "nonexistent"
	err := run(context.Background(), cfg, strings.NewReader(""), quietLogger())
	if code := cli.ExitCode(cli.Classify(err)); code != cli.ExitUsage {
		t.Errorf("unknown pattern: exit code = %d (%v)", code, err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestRunServesIngest(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Ingest.Addr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, strings.NewReader(""), quietLogger())
	}()

	url := "http://" + cfg.Ingest.Addr + "/v1/batch"
	body := `{"batch":[{"type":"track","event":"a"},{"type":"track","event":"b"}]}`
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Post(url, "application/json", strings.NewReader(body))
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("POST /v1/batch = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ingest listener never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if c.records != 2 {
		t.Errorf("server received %d records, want 2", c.records)
	}
}

func TestRunIngestBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Ingest.Addr = ln.Addr().String()
	if err := run(context.Background(), cfg, strings.NewReader(""), quietLogger()); err == nil {
		t.Error("expected error when the ingest address is taken")
	}
}
