package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chishui/opensearch-sparse-benchmark/internal/generator"
	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
)

// BulkClient is the slice of the cluster client the ingest path needs.
type BulkClient interface {
	Bulk(ctx context.Context, index, body string) (*osearch.Response, error)
}

// IngestHandler turns batches of documents into bulk requests. A bulk
// response can fail per item; failed (action, doc) pairs are re-sent alone,
// sharing the task's retry budget, so one poisoned document never condemns
// its whole batch.
type IngestHandler struct {
	Client BulkClient
	Index  string
	Exec   Executor
}

func (h *IngestHandler) Handle(ctx context.Context, batch Batch, w *metrics.WorkerStats) {
	items := batch.Items
	w.Docs += int64(len(items))

	for round := 0; ; round++ {
		body, err := bulkBodyFor(h.Index, items)
		if err != nil {
			slog.Error("Failed to build bulk body", "error", err, "batch", batch.Seq)
			w.Fail += int64(len(items))
			w.Errors++
			return
		}

		res := h.Exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
			start := time.Now()
			resp, err := h.Client.Bulk(ctx, h.Index, body)
			w.Record(time.Since(start))
			return resp, err
		})
		w.Retries += int64(res.Attempts - 1)

		if res.Err != nil {
			slog.Error("Bulk request failed", "error", res.Err, "attempts", res.Attempts, "docs", len(items))
			w.Fail += int64(len(items))
			w.Errors++
			return
		}

		failed, err := failedItems(res.Resp.Body, items)
		if err != nil {
			// A bulk body we cannot parse gives no per-item outcomes, so
			// nothing in the batch may be counted as indexed.
			slog.Error("Failed to parse bulk response", "error", err, "batch", batch.Seq)
			w.Fail += int64(len(items))
			w.Errors++
			return
		}
		w.Success += int64(len(items) - len(failed))

		if len(failed) == 0 {
			return
		}
		if round >= h.Exec.MaxRetries {
			w.Fail += int64(len(failed))
			return
		}

		slog.Warn("Retrying failed bulk items", "count", len(failed), "round", round+1)
		w.Retries++
		items = failed
	}
}

func bulkBodyFor(index string, items []generator.Item) (string, error) {
	docs := make([]request.BulkDoc, len(items))
	for i, it := range items {
		docs[i] = request.BulkDoc{ID: it.ID, Body: it.Body}
	}
	return request.BulkBody(index, docs)
}

type bulkItemStatus struct {
	Error json.RawMessage `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemStatus `json:"items"`
}

// failedItems pairs the bulk response items positionally with the request
// order and returns the documents the cluster rejected.
func failedItems(respBody []byte, items []generator.Item) ([]generator.Item, error) {
	var resp bulkResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse bulk response: %w", err)
	}
	if !resp.Errors {
		return nil, nil
	}

	var failed []generator.Item
	for i, result := range resp.Items {
		if i >= len(items) {
			break
		}
		for _, status := range result {
			if len(status.Error) > 0 && string(status.Error) != "null" {
				failed = append(failed, items[i])
			}
			break
		}
	}
	return failed, nil
}
