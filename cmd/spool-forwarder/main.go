package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/spool/internal/cli"
	"github.com/ppiankov/spool/internal/config"
	"github.com/ppiankov/spool/internal/contextutil"
	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/ingest"
	"github.com/ppiankov/spool/internal/record"
	"github.com/ppiankov/spool/internal/ringfile"
)

const finalFlushTimeout = 10 * time.Second

var version = "dev"

func main() {
	cfg := config.Load()
	if v := os.Getenv("SPOOL_QUEUE"); v != "" {
		cfg.Queue.Dir = filepath.Dir(v)
		cfg.Queue.Name = filepath.Base(v)
	}
	if cfg.Transport.Target == "" {
		fmt.Fprintln(os.Stderr, "required env var SPOOL_TARGET not set")
		os.Exit(cli.ExitUsage)
	}

	logger := cli.NewLogger(os.Stderr, cfg.Verbose)
	ctx, cancel := contextutil.NewSignalContext()
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, logger); err != nil {
		logger.Error("spool-forwarder stopped", "error", err)
		cancel()
		os.Exit(cli.ExitCode(cli.Classify(err)))
	}
}

// run forwards JSON lines from in until EOF or ctx is cancelled, then flushes
// what it can and closes the queue. With an ingest listener configured it
// keeps accepting HTTP records after EOF until ctx is cancelled. Records not
// delivered stay in the queue file for the next run.
func run(ctx context.Context, cfg *config.Config, in io.Reader, logger *slog.Logger) error {
	dc, err := cfg.DispatcherConfig()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	opts, err := cfg.TransportOptions()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	t, err := forward.NewTransport(ctx, cfg.Transport.Target, opts)
	if err != nil {
		return cli.NewUsageError(err.Error())
	}
	redactor, err := cfg.Redactor()
	if err != nil {
		return cli.NewUsageError(err.Error())
	}

	path := cfg.QueuePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("create queue dir", "error", err)
	}
	q, err := forward.OpenQueue(ringfile.NewRegistry(), path, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := forward.NewMetrics(reg)
	if redactor != nil {
		redactor.SetOnRedact(metrics.CountRedaction)
		logger.Info("redaction enabled", "patterns", redactor.PatternNames())
	}
	codec := record.JSONCodec{MaxBytes: dc.MaxRecordBytes, Redactor: redactor}

	d := forward.New(q, t, dc, forward.WithLogger(logger), forward.WithMetrics(metrics))
	logger.Info("spool-forwarder starting", "queue", path, "target", cfg.Transport.Target, "queued", q.Size())

	var ingestSrv *ingest.Server
	if cfg.Ingest.Addr != "" {
		ingestSrv, err = serveIngest(cfg, d, codec, reg, logger)
		if err != nil {
			_ = d.Close()
			return err
		}
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	reader := forward.NewLineReader(codec, logger)
	done := make(chan error, 1)
	go func() {
		stats, err := reader.Feed(ctx, in, d.Enqueue)
		logger.Info("input finished", "lines", stats.Lines, "accepted", stats.Accepted, "rejected", stats.Rejected)
		done <- err
	}()

	var feedErr error
	select {
	case feedErr = <-done:
		if feedErr == nil && ingestSrv != nil {
			logger.Info("input closed, serving ingest until stopped")
			<-ctx.Done()
			logger.Info("shutting down", "reason", context.Cause(ctx))
		}
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	}

	if ingestSrv != nil {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ingestSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ingest shutdown", "error", err)
		}
		c()
	}

	flushCtx, flushCancel := contextutil.NewFlushContext(finalFlushTimeout)
	finalFlush(flushCtx, d, logger)
	flushCancel()

	closeErr := d.Close()
	if srv != nil {
		shutdownCtx, c := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(shutdownCtx)
		c()
	}

	if feedErr != nil && !errors.Is(feedErr, context.Canceled) && !errors.Is(feedErr, forward.ErrClosed) {
		return feedErr
	}
	if err := d.Err(); err != nil {
		return err
	}
	return closeErr
}

// finalFlush delivers batches until the queue is empty, a flush fails or ctx
// expires.
func finalFlush(ctx context.Context, d *forward.Dispatcher, logger *slog.Logger) {
	for {
		res, err := d.FlushSync(ctx)
		if err != nil {
			logger.Warn("final flush failed, records kept for next run", "queued", res.Remaining, "error", err)
			return
		}
		if res.Outcome != forward.OutcomeDelivered || res.Remaining == 0 {
			return
		}
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// serveIngest binds the ingest listener before returning so a bad address
// fails startup.
func serveIngest(cfg *config.Config, d *forward.Dispatcher, codec record.JSONCodec, reg *prometheus.Registry, logger *slog.Logger) (*ingest.Server, error) {
	ln, err := net.Listen("tcp", cfg.Ingest.Addr)
	if err != nil {
		return nil, fmt.Errorf("ingest listen: %w", err)
	}
	srv := ingest.NewServer(cfg.Ingest.Addr, d, codec, ingest.NewMetrics(reg), logger)
	srv.SetVersion(version)
	srv.SetWriteKey(cfg.Ingest.WriteKey)
	srv.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ingest server", "addr", cfg.Ingest.Addr, "error", err)
		}
	}()
	logger.Info("ingest listening", "addr", ln.Addr().String())
	return srv, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	return srv
}
