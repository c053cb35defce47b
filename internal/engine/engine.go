// Package engine runs the bounded-concurrency producer/consumer pipeline at
// the heart of the benchmark: one producer drains a generator into a bounded
// queue, a fixed pool of workers drains the queue against the cluster.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/generator"
	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
)

const (
	DefaultClients    = 4
	DefaultBulkSize   = 100
	DefaultQueueSize  = 100
	DefaultMaxRetries = 3
)

// Config holds the per-task pool options, all defaulted when zero.
type Config struct {
	Clients    int
	BulkSize   int
	QueueSize  int
	MaxRetries int
	// TotalCount caps the number of items drawn from the generator;
	// zero means run to natural exhaustion.
	TotalCount int
	// TargetThroughput throttles dispatch to roughly this many items per
	// second across the whole pool; zero means unthrottled.
	TargetThroughput float64

	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clients <= 0 {
		c.Clients = DefaultClients
	}
	if c.BulkSize <= 0 {
		c.BulkSize = DefaultBulkSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Executor returns the retry executor every worker of this pool uses.
func (c Config) Executor() Executor {
	return Executor{MaxRetries: c.MaxRetries, Delay: c.RetryDelay, MaxDelay: c.RetryMaxDelay}
}

// State tracks the pool through one task execution.
type State int32

const (
	Idle State = iota
	Filling
	Draining
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Filling:
		return "filling"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Batch is one queued unit of work: bulk_size items for ingestion, a single
// item for search.
type Batch struct {
	Items []generator.Item
	Seq   int
}

// Handler processes one dequeued batch and records the outcome on the
// worker's stats. Implementations are shared by all workers and must be safe
// for concurrent use.
type Handler interface {
	Handle(ctx context.Context, batch Batch, w *metrics.WorkerStats)
}

type Engine struct {
	cfg   Config
	state atomic.Int32
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run drives src through the worker pool until the stream ends, TotalCount
// items are processed, or a fatal generator error occurs. It always joins
// every worker before returning, so no in-flight counts are lost; queued
// work is drained even when production fails.
//
// Item-level failures (malformed encodings, unbuildable queries) are counted
// and do not stop the pool. The returned error is non-nil only for fatal
// conditions, in which case the summary still covers the drained work.
func (e *Engine) Run(ctx context.Context, src generator.Source, batchSize int, h Handler) (*metrics.Summary, error) {
	cfg := e.cfg
	if batchSize <= 0 {
		batchSize = 1
	}

	queue := make(chan Batch, cfg.QueueSize)
	workers := make([]*metrics.WorkerStats, cfg.Clients)
	for i := range workers {
		workers[i] = &metrics.WorkerStats{WorkerID: i}
	}

	var limiter *rate.Limiter
	if cfg.TargetThroughput > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.TargetThroughput), batchSize)
	}

	var produced, rejected atomic.Int64

	// A plain group, not WithContext: a producer failure must not cancel
	// the workers mid-drain.
	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(queue)
		defer e.state.Store(int32(Draining))
		e.state.Store(int32(Filling))
		return e.produce(ctx, src, batchSize, queue, &produced, &rejected)
	})

	for _, w := range workers {
		w := w
		g.Go(func() error {
			w.Start = time.Now()
			defer func() { w.End = time.Now() }()

			for batch := range queue {
				if limiter != nil {
					if err := limiter.WaitN(ctx, len(batch.Items)); err != nil {
						// Context gone; still consume the queue so the
						// producer is never blocked forever.
						w.Fail += int64(len(batch.Items))
						continue
					}
				}
				h.Handle(ctx, batch, w)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		e.state.Store(int32(Failed))
	} else {
		e.state.Store(int32(Completed))
	}

	sum := metrics.Aggregate(workers, produced.Load())
	sum.Fail += rejected.Load()
	sum.Errors += rejected.Load()

	return sum, err
}

func (e *Engine) produce(
	ctx context.Context,
	src generator.Source,
	batchSize int,
	queue chan<- Batch,
	produced, rejected *atomic.Int64,
) error {
	var batch []generator.Item
	seq := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		select {
		case queue <- Batch{Items: batch, Seq: seq}:
		case <-ctx.Done():
			return ctx.Err()
		}
		seq++
		batch = nil
		return nil
	}

	// The cap counts dispatched items only; rejected items are accounted
	// for in the summary but never consume the budget.
	for e.cfg.TotalCount <= 0 || produced.Load() < int64(e.cfg.TotalCount) {
		item, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if isItemError(err) {
				// The item never existed as far as the pool is concerned,
				// but the task must account for it.
				slog.Warn("Skipping malformed item", "error", err)
				rejected.Add(1)
				continue
			}
			// Flush what we have so workers drain it, then report the
			// abnormal termination.
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return apperr.NewGeneratorWrap("generator failed", err)
		}

		batch = append(batch, item)
		produced.Add(1)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// isItemError reports whether err condemns a single item rather than the
// whole stream.
func isItemError(err error) bool {
	var ee *apperr.EncodingError
	var qe *apperr.QuerySpecError
	return errors.As(err, &ee) || errors.As(err, &qe)
}
