package engine

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/generator"
	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
)

// funcSource adapts a closure into a generator.Source.
type funcSource struct {
	next func(ctx context.Context) (generator.Item, error)
}

func (s *funcSource) Next(ctx context.Context) (generator.Item, error) { return s.next(ctx) }
func (s *funcSource) Close() error                                     { return nil }

func itemStream(items ...generator.Item) *funcSource {
	i := 0
	return &funcSource{next: func(ctx context.Context) (generator.Item, error) {
		if i >= len(items) {
			return generator.Item{}, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	}}
}

func nItems(n int) []generator.Item {
	items := make([]generator.Item, n)
	for i := range items {
		items[i] = generator.Item{ID: strconv.Itoa(i), Body: []byte("{}")}
	}
	return items
}

// countingHandler marks every item successful and tracks totals across
// workers.
type countingHandler struct {
	processed atomic.Int64
	batches   atomic.Int64
	delay     time.Duration
}

func (h *countingHandler) Handle(ctx context.Context, batch Batch, w *metrics.WorkerStats) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.processed.Add(int64(len(batch.Items)))
	h.batches.Add(1)
	w.Docs += int64(len(batch.Items))
	w.Success += int64(len(batch.Items))
}

func TestEngine_ProcessesAllItems(t *testing.T) {
	eng := New(Config{Clients: 3, QueueSize: 4})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), itemStream(nItems(10)...), 3, h)

	require.NoError(t, err)
	assert.Equal(t, int64(10), h.processed.Load())
	assert.Equal(t, int64(4), h.batches.Load())
	assert.Equal(t, int64(10), sum.Produced)
	assert.Equal(t, int64(10), sum.Success)
	assert.Equal(t, int64(0), sum.Fail)
	assert.Equal(t, Completed, eng.State())
}

func TestEngine_BackpressureWithTinyQueue(t *testing.T) {
	eng := New(Config{Clients: 1, QueueSize: 1})
	h := &countingHandler{delay: 10 * time.Millisecond}

	sum, err := eng.Run(context.Background(), itemStream(nItems(5)...), 1, h)

	require.NoError(t, err)
	assert.Equal(t, int64(5), h.processed.Load())
	assert.Equal(t, int64(5), sum.Produced)
}

func TestEngine_ItemErrorsSkipped(t *testing.T) {
	calls := 0
	src := &funcSource{next: func(ctx context.Context) (generator.Item, error) {
		calls++
		switch calls {
		case 1, 3:
			return generator.Item{ID: strconv.Itoa(calls), Body: []byte("{}")}, nil
		case 2:
			return generator.Item{}, apperr.NewEncoding("bad row")
		default:
			return generator.Item{}, io.EOF
		}
	}}

	eng := New(Config{Clients: 1})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), src, 10, h)

	require.NoError(t, err)
	assert.Equal(t, int64(2), h.processed.Load())
	assert.Equal(t, int64(2), sum.Produced)
	assert.Equal(t, int64(1), sum.Fail)
	assert.Equal(t, int64(1), sum.Errors)
}

func TestEngine_FatalGeneratorErrorDrainsQueue(t *testing.T) {
	calls := 0
	src := &funcSource{next: func(ctx context.Context) (generator.Item, error) {
		calls++
		if calls <= 3 {
			return generator.Item{ID: strconv.Itoa(calls), Body: []byte("{}")}, nil
		}
		return generator.Item{}, errors.New("upstream died")
	}}

	eng := New(Config{Clients: 2})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), src, 10, h)

	var ge *apperr.GeneratorError
	require.ErrorAs(t, err, &ge)
	// The partial batch was flushed and drained before the failure surfaced.
	assert.Equal(t, int64(3), h.processed.Load())
	assert.Equal(t, int64(3), sum.Produced)
	assert.Equal(t, Failed, eng.State())
}

func TestEngine_TotalCountCapsProduction(t *testing.T) {
	seq := 0
	endless := &funcSource{next: func(ctx context.Context) (generator.Item, error) {
		seq++
		return generator.Item{ID: strconv.Itoa(seq), Body: []byte("{}")}, nil
	}}

	eng := New(Config{Clients: 2, TotalCount: 7})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), endless, 2, h)

	require.NoError(t, err)
	assert.Equal(t, int64(7), h.processed.Load())
	assert.Equal(t, int64(7), sum.Produced)
}

func TestEngine_TotalCountIgnoresRejectedItems(t *testing.T) {
	// Every other item is malformed; the cap must still be met with good
	// items alone.
	seq := 0
	src := &funcSource{next: func(ctx context.Context) (generator.Item, error) {
		seq++
		if seq%2 == 1 {
			return generator.Item{}, apperr.NewEncoding("bad row %d", seq)
		}
		return generator.Item{ID: strconv.Itoa(seq), Body: []byte("{}")}, nil
	}}

	eng := New(Config{Clients: 1, TotalCount: 3})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), src, 1, h)

	require.NoError(t, err)
	assert.Equal(t, int64(3), h.processed.Load())
	assert.Equal(t, int64(3), sum.Produced)
	assert.Equal(t, int64(3), sum.Fail)
	assert.Equal(t, int64(3), sum.Errors)
}

func TestEngine_EmptySource(t *testing.T) {
	eng := New(Config{})
	h := &countingHandler{}

	sum, err := eng.Run(context.Background(), itemStream(), 100, h)

	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Produced)
	assert.Equal(t, Completed, eng.State())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultClients, cfg.Clients)
	assert.Equal(t, DefaultBulkSize, cfg.BulkSize)
	assert.Equal(t, DefaultQueueSize, cfg.QueueSize)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "failed", Failed.String())
}
