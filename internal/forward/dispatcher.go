package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/ppiankov/spool/internal/envelope"
	"github.com/ppiankov/spool/internal/record"
	"github.com/ppiankov/spool/internal/ringfile"
)

// Defaults applied by New for zero Config fields.
const (
	// DefaultMaxQueueSize is the record count above which the oldest is dropped.
	DefaultMaxQueueSize = 1000
	// DefaultFlushQueueSize is the queue size that triggers a flush.
	DefaultFlushQueueSize = 20
	// DefaultFlushInterval is the period of the flush timer.
	DefaultFlushInterval = 30 * time.Second
	// DefaultMaxBatchBytes caps the record bytes read into one batch.
	DefaultMaxBatchBytes = 475_000
	// DefaultMaxRecordBytes is the per-record ceiling enforced at admission.
	DefaultMaxRecordBytes = record.DefaultMaxBytes
	// DefaultRetryInitial is the first backoff delay after a failed upload.
	DefaultRetryInitial = time.Second
	// DefaultRetryMax caps the backoff delay.
	DefaultRetryMax = 5 * time.Minute
	// DefaultRequestBuffer is the capacity of the worker's request channel.
	DefaultRequestBuffer = 1024
)

var (
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("dispatcher closed")

	// ErrBackpressure is returned when the request buffer is full.
	ErrBackpressure = errors.New("dispatcher request buffer full")

	// ErrRecordRejected wraps the reason a record was refused at admission.
	ErrRecordRejected = errors.New("record rejected")

	// ErrOffline is returned by FlushSync when the transport reports no connectivity.
	ErrOffline = errors.New("transport not connected")
)

// Config controls admission and flushing.
type Config struct {
	MaxQueueSize   int           // hard cap on queued records
	FlushQueueSize int           // queue size that triggers a flush
	FlushInterval  time.Duration // periodic flush; negative disables the timer
	MaxBatchBytes  int           // record bytes read per flush
	MaxRecordBytes int           // per-record ceiling enforced at admission
	RetryInitial   time.Duration
	RetryMax       time.Duration
	RequestBuffer  int
	Metadata       map[string]any // envelope metadata
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.FlushQueueSize <= 0 {
		c.FlushQueueSize = DefaultFlushQueueSize
	}
	if c.FlushQueueSize > c.MaxQueueSize {
		c.FlushQueueSize = c.MaxQueueSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.MaxRecordBytes <= 0 {
		c.MaxRecordBytes = DefaultMaxRecordBytes
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = DefaultRequestBuffer
	}
	return c
}

// Outcome classifies a flush attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeEmpty     Outcome = "empty"
	OutcomeOffline   Outcome = "offline"
	OutcomeFailed    Outcome = "failed"
	OutcomeStorage   Outcome = "storage_error"
)

// FlushResult describes one flush attempt.
type FlushResult struct {
	Outcome   Outcome
	Records   int // records uploaded and removed
	Bytes     int // envelope size
	Remaining int // queue size after the attempt
}

type request struct {
	data   []byte
	flush  bool
	result chan flushReply
}

type flushReply struct {
	res FlushResult
	err error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithCodec sets the codec used by Record.
func WithCodec(c record.Codec) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

// WithEnvelopeOptions passes options to every batch envelope writer.
func WithEnvelopeOptions(opts ...envelope.Option) Option {
	return func(d *Dispatcher) {
		d.envOpts = append(d.envOpts, opts...)
	}
}

// Dispatcher owns a Queue and moves its records to a Transport in batches.
// All queue access happens on one worker goroutine; producers submit
// requests without blocking on I/O.
type Dispatcher struct {
	cfg       Config
	queue     Queue
	bounded   *BoundedQueue
	transport Transport
	codec     record.Codec
	envOpts   []envelope.Option
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	closed   bool
	requests chan request
	kick     chan struct{}
	stop     chan struct{}
	wg       conc.WaitGroup

	// worker-owned
	retry      *backoff.ExponentialBackOff
	retryTimer *time.Timer
	closeErr   error

	fatalMu sync.Mutex
	fatal   error
}

// New starts a Dispatcher over q. The Dispatcher takes ownership of q and
// closes it on Close.
func New(q Queue, t Transport, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:       cfg,
		queue:     q,
		bounded:   NewBoundedQueue(q, cfg.MaxQueueSize, cfg.FlushQueueSize),
		transport: t,
		codec:     record.JSONCodec{MaxBytes: cfg.MaxRecordBytes},
		logger:    discardLogger(),
		requests:  make(chan request, cfg.RequestBuffer),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(prometheus.NewRegistry())
	}
	d.bounded.SetOnEvict(d.metrics.RecordsEvicted.Inc)

	d.retry = backoff.NewExponentialBackOff()
	d.retry.InitialInterval = cfg.RetryInitial
	d.retry.MaxInterval = cfg.RetryMax
	d.retry.Reset()

	d.metrics.QueueSize.Set(float64(q.Size()))

	// a backlog left by a previous run is flushed right away
	if q.Size() >= cfg.FlushQueueSize {
		d.signal()
	}

	d.wg.Go(d.run)
	if cfg.FlushInterval > 0 {
		d.wg.Go(d.tick)
	}
	return d
}

// Record serializes v with the configured codec and enqueues the result.
func (d *Dispatcher) Record(v any) error {
	data, err := d.codec.Encode(v)
	if err != nil {
		d.metrics.RecordsRejected.WithLabelValues(rejectReason(err)).Inc()
		d.logger.Warn("record rejected", "error", err)
		return fmt.Errorf("%w: %w", ErrRecordRejected, err)
	}
	return d.Enqueue(data)
}

// Enqueue submits an already-serialized record. Empty and oversized records
// are rejected synchronously; otherwise the call returns without waiting for
// the record to reach disk.
func (d *Dispatcher) Enqueue(data []byte) error {
	if len(data) == 0 {
		d.metrics.RecordsRejected.WithLabelValues("empty").Inc()
		return fmt.Errorf("%w: %w", ErrRecordRejected, record.ErrEmptyRecord)
	}
	if len(data) > d.cfg.MaxRecordBytes {
		d.metrics.RecordsRejected.WithLabelValues("too_large").Inc()
		d.logger.Warn("record rejected", "bytes", len(data), "limit", d.cfg.MaxRecordBytes)
		return fmt.Errorf("%w: %w: %d bytes > %d", ErrRecordRejected, record.ErrRecordTooLarge, len(data), d.cfg.MaxRecordBytes)
	}
	if err := d.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.requests <- request{data: append([]byte(nil), data...)}:
		return nil
	default:
		d.metrics.Backpressure.Inc()
		return ErrBackpressure
	}
}

// Flush asks the worker to flush. It does not wait.
func (d *Dispatcher) Flush() {
	d.signal()
}

// FlushSync flushes after every previously submitted record has been
// admitted and waits for the outcome. ctx bounds the wait, not the upload.
func (d *Dispatcher) FlushSync(ctx context.Context) (FlushResult, error) {
	req := request{flush: true, result: make(chan flushReply, 1)}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return FlushResult{}, ErrClosed
	}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		d.mu.RUnlock()
		return FlushResult{}, ctx.Err()
	}
	d.mu.RUnlock()

	select {
	case r := <-req.result:
		return r.res, r.err
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
}

// Close stops the timers, processes requests already submitted and closes
// the queue. Later requests fail with ErrClosed.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	close(d.requests)
	d.mu.Unlock()

	d.wg.Wait()
	return d.closeErr
}

// Err returns the fatal storage error that stopped admission, if any.
func (d *Dispatcher) Err() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatal
}

func (d *Dispatcher) signal() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) tick() {
	t := time.NewTicker(d.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.signal()
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) run() {
	defer d.shutdown()
	for {
		select {
		case req, ok := <-d.requests:
			if !ok {
				return
			}
			d.handle(req)
		case <-d.kick:
			if _, err := d.flush(); err != nil {
				d.logger.Debug("flush", "error", err)
			}
		}
	}
}

func (d *Dispatcher) shutdown() {
	if d.retryTimer != nil {
		d.retryTimer.Stop()
	}
	if err := d.queue.Close(); err != nil {
		d.closeErr = fmt.Errorf("close queue: %w", err)
	}
}

func (d *Dispatcher) handle(req request) {
	if req.flush {
		res, err := d.flush()
		req.result <- flushReply{res: res, err: err}
		return
	}

	if d.Err() != nil {
		d.metrics.RecordsRejected.WithLabelValues("storage").Inc()
		return
	}
	due, err := d.bounded.Enqueue(req.data)
	if err != nil {
		if errors.Is(err, ringfile.ErrCapacity) {
			d.metrics.RecordsRejected.WithLabelValues("too_large").Inc()
			d.logger.Warn("record dropped", "bytes", len(req.data), "error", err)
			return
		}
		d.metrics.RecordsRejected.WithLabelValues("storage").Inc()
		d.setFatal(err)
		d.logger.Error("queue write failed, admission stopped", "error", err)
		return
	}
	d.metrics.RecordsEnqueued.Inc()
	d.metrics.QueueSize.Set(float64(d.queue.Size()))
	if due {
		d.signal()
	}
}

func (d *Dispatcher) setFatal(err error) {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	if d.fatal == nil {
		d.fatal = err
	}
}

// flush uploads one byte-budgeted prefix of the queue. It runs on the worker.
func (d *Dispatcher) flush() (FlushResult, error) {
	res := FlushResult{Remaining: d.queue.Size()}

	if err := d.Err(); err != nil {
		res.Outcome = OutcomeStorage
		d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
		return res, err
	}
	if !d.transport.Connected() {
		res.Outcome = OutcomeOffline
		d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
		return res, ErrOffline
	}
	if res.Remaining == 0 {
		res.Outcome = OutcomeEmpty
		return res, nil
	}

	var records [][]byte
	total := 0
	err := d.queue.ForEach(func(data []byte) bool {
		if len(records) > 0 && total+len(data) > d.cfg.MaxBatchBytes {
			return false
		}
		records = append(records, data)
		total += len(data)
		return true
	})
	if err != nil {
		return d.storageFailure(res, fmt.Errorf("read batch: %w", err))
	}

	var body bytes.Buffer
	if err := envelope.Encode(&body, d.cfg.Metadata, records, d.envOpts...); err != nil {
		res.Outcome = OutcomeFailed
		d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
		d.logger.Error("build envelope", "error", err)
		return res, fmt.Errorf("build envelope: %w", err)
	}
	res.Bytes = body.Len()

	start := time.Now()
	err = d.transport.Upload(context.Background(), body.Bytes())
	d.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		res.Outcome = OutcomeFailed
		d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
		delay := d.scheduleRetry()
		d.logger.Warn("upload failed, records retained",
			"records", len(records), "queued", res.Remaining, "retry_in", delay, "error", err)
		return res, fmt.Errorf("upload %d records: %w", len(records), err)
	}

	if err := d.queue.RemoveN(len(records)); err != nil {
		if !errors.Is(err, ringfile.ErrEraseIncomplete) {
			return d.storageFailure(res, fmt.Errorf("remove %d delivered records: %w", len(records), err))
		}
		d.logger.Warn("delivered records removed but not erased", "records", len(records), "error", err)
	}
	d.retry.Reset()
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}

	res.Outcome = OutcomeDelivered
	res.Records = len(records)
	res.Remaining = d.queue.Size()
	d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
	d.metrics.RecordsDelivered.Add(float64(res.Records))
	d.metrics.BatchBytes.Observe(float64(res.Bytes))
	d.metrics.QueueSize.Set(float64(res.Remaining))
	d.logger.Info("batch delivered", "records", res.Records, "bytes", res.Bytes, "remaining", res.Remaining)

	if res.Remaining >= d.cfg.FlushQueueSize {
		d.signal()
	}
	return res, nil
}

// storageFailure stops the dispatcher: after a failed read or removal the
// queue no longer reflects what was delivered.
func (d *Dispatcher) storageFailure(res FlushResult, err error) (FlushResult, error) {
	res.Outcome = OutcomeStorage
	d.metrics.Flushes.WithLabelValues(string(res.Outcome)).Inc()
	d.setFatal(err)
	d.logger.Error("flush aborted, dispatcher stopped", "error", err)
	return res, err
}

// scheduleRetry arms a one-shot flush after the next backoff interval,
// replacing any pending one.
func (d *Dispatcher) scheduleRetry() time.Duration {
	delay := d.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = d.cfg.RetryMax
	}
	if d.retryTimer != nil {
		d.retryTimer.Stop()
	}
	d.retryTimer = time.AfterFunc(delay, d.signal)
	return delay
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, record.ErrEmptyRecord):
		return "empty"
	case errors.Is(err, record.ErrRecordTooLarge):
		return "too_large"
	default:
		return "encode"
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
