package engine

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
)

const (
	defaultRetryDelay = 500 * time.Millisecond
	defaultMaxDelay   = 10 * time.Second
)

// Operation is one outbound HTTP call against the cluster.
type Operation func(ctx context.Context) (*osearch.Response, error)

// Executor wraps an Operation with bounded retries. Backoff is exponential
// from Delay, capped at MaxDelay, with no jitter, so the wait before attempt
// n is a pure function of n.
type Executor struct {
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
}

// Result is the outcome of one dispatched call, including every retry.
type Result struct {
	Resp     *osearch.Response
	Attempts int
	Err      error
}

// Do runs op until it succeeds, fails non-retryably, or the retry budget of
// MaxRetries additional attempts is spent. The last error is returned on
// exhaustion.
func (e Executor) Do(ctx context.Context, op Operation) Result {
	delay := e.Delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	maxDelay := e.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	var resp *osearch.Response
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			r, err := op(ctx)
			if err != nil {
				return err
			}
			if r.IsError() {
				return apperr.NewHTTP(r.Status, string(r.Body))
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.MaxRetries)+1),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
	)

	return Result{Resp: resp, Attempts: attempts, Err: err}
}

// Retryable classifies an attempt error. Cluster responses are judged by
// status; anything else came from the transport (connection reset, timeout)
// and is worth another try.
func Retryable(err error) bool {
	var he *apperr.HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	return true
}
