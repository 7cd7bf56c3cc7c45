package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ppiankov/spool/internal/forward"
	"github.com/ppiankov/spool/internal/record"
)

const maxRequestBytes = 10 << 20 // 10MB

// APIVersion is incremented on breaking changes to the ingest API.
const APIVersion = 1

const (
	backpressureWait = 50 * time.Millisecond
	retryAfter       = "1"
)

// Sink accepts normalized records. *forward.Dispatcher implements it.
type Sink interface {
	Enqueue(data []byte) error
	FlushSync(ctx context.Context) (forward.FlushResult, error)
	Err() error
}

// Result is the response body of the record endpoints.
type Result struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

// FlushResponse is the response body of /v1/flush.
type FlushResponse struct {
	Outcome   forward.Outcome `json:"outcome"`
	Records   int             `json:"records"`
	Bytes     int             `json:"bytes"`
	Remaining int             `json:"remaining"`
	Error     string          `json:"error,omitempty"`
}

// Server accepts records over HTTP and hands them to a Sink.
type Server struct {
	httpSrv    *http.Server
	mux        *http.ServeMux
	sink       Sink
	codec      record.JSONCodec
	metrics    *Metrics
	logger     *slog.Logger
	writeKey   string
	version    string
	activeConn atomic.Int64
}

// NewServer creates an HTTP server bound to addr. metrics and logger may be nil.
func NewServer(addr string, sink Sink, codec record.JSONCodec, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		sink:    sink,
		codec:   codec,
		metrics: metrics,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/event", s.instrument("event", s.handleEvent))
	mux.HandleFunc("POST /v1/batch", s.instrument("batch", s.handleBatch))
	mux.HandleFunc("POST /v1/import", s.instrument("batch", s.handleBatch))
	mux.HandleFunc("POST /v1/flush", s.instrument("flush", s.handleFlush))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux = mux

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// SetVersion sets the application version reported by /api/version.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// SetWriteKey requires requests to carry key as the HTTP Basic auth username.
func (s *Server) SetWriteKey(key string) {
	s.writeKey = key
}

// Handle mounts an extra handler, e.g. GET /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Serve accepts connections on a listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpSrv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleEvent accepts a single JSON object.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	data, err := s.codec.Normalize(body)
	if err != nil {
		s.countRejected(1)
		writeJSON(w, http.StatusBadRequest, Result{Rejected: 1, Error: err.Error()})
		return
	}
	if err := s.enqueue(r.Context(), data); err != nil {
		if errors.Is(err, forward.ErrRecordRejected) {
			s.countRejected(1)
			writeJSON(w, http.StatusRequestEntityTooLarge, Result{Rejected: 1, Error: err.Error()})
			return
		}
		s.unavailable(w, Result{Error: err.Error()})
		return
	}
	s.countReceived(1)
	writeJSON(w, http.StatusAccepted, Result{Accepted: 1})
}

// handleBatch accepts a {"batch":[...]} envelope, the shape the HTTP
// transport uploads, so one spool can forward into another.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var env struct {
		Batch []json.RawMessage `json:"batch"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var res Result
	for _, raw := range env.Batch {
		data, err := s.codec.Normalize(raw)
		if err != nil {
			res.Rejected++
			s.logger.Warn("ingest record rejected", "error", err)
			continue
		}
		if err := s.enqueue(r.Context(), data); err != nil {
			if errors.Is(err, forward.ErrRecordRejected) {
				res.Rejected++
				continue
			}
			s.countReceived(res.Accepted)
			s.countRejected(res.Rejected)
			res.Error = err.Error()
			s.unavailable(w, res)
			return
		}
		res.Accepted++
	}
	s.countReceived(res.Accepted)
	s.countRejected(res.Rejected)
	s.logger.Debug("batch received", "accepted", res.Accepted, "rejected", res.Rejected, "remote", stripPort(r.RemoteAddr))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	res, err := s.sink.FlushSync(r.Context())
	resp := FlushResponse{
		Outcome:   res.Outcome,
		Records:   res.Records,
		Bytes:     res.Bytes,
		Remaining: res.Remaining,
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, forward.ErrOffline), errors.Is(err, forward.ErrClosed):
		resp.Error = err.Error()
		s.unavailable(w, resp)
	default:
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if err := s.sink.Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	v := s.version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, http.StatusOK, struct {
		Version string `json:"version"`
		API     int    `json:"api"`
	}{
		Version: v,
		API:     APIVersion,
	})
}

// instrument wraps a record endpoint with auth, connection tracking and
// request metrics.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.trackConnOpen()
		defer s.trackConnClose()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			if s.metrics != nil {
				s.metrics.RequestDuration.Observe(time.Since(start).Seconds())
				s.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			}
		}()

		if s.writeKey != "" {
			user, _, ok := r.BasicAuth()
			if !ok || user != s.writeKey {
				w.Header().Set("WWW-Authenticate", `Basic realm="spool"`)
				http.Error(rec, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		h(rec, r)
	}
}

// readBody reads a size-limited request body, decoding gzip or zstd
// content encodings.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var src io.ReadCloser = body
	switch enc := strings.ToLower(r.Header.Get("Content-Encoding")); enc {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", errBadEncoding, err)
		}
		src = zr
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", errBadEncoding, err)
		}
		src = zr.IOReadCloser()
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", errBadEncoding, enc)
	}
	defer func() { _ = src.Close() }()

	// the decoded stream gets the same ceiling as the wire body
	data, err := io.ReadAll(http.MaxBytesReader(w, src, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errBadEncoding, err)
	}
	return data, nil
}

var errBadEncoding = errors.New("unreadable request body")

// enqueue hands data to the sink, waiting out backpressure until ctx ends.
func (s *Server) enqueue(ctx context.Context, data []byte) error {
	for {
		err := s.sink.Enqueue(data)
		if !errors.Is(err, forward.ErrBackpressure) {
			return err
		}
		select {
		case <-time.After(backpressureWait):
		case <-ctx.Done():
			return forward.ErrBackpressure
		}
	}
}

func (s *Server) unavailable(w http.ResponseWriter, body any) {
	w.Header().Set("Retry-After", retryAfter)
	writeJSON(w, http.StatusServiceUnavailable, body)
}

func (s *Server) countReceived(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.RecordsReceived.Add(float64(n))
	}
}

func (s *Server) countRejected(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.RecordsRejected.Add(float64(n))
	}
}

func (s *Server) trackConnOpen() {
	n := s.activeConn.Add(1)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Set(float64(n))
	}
}

func (s *Server) trackConnClose() {
	n := s.activeConn.Add(-1)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Set(float64(n))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
