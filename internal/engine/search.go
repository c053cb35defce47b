package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
	"github.com/chishui/opensearch-sparse-benchmark/internal/recall"
)

// SearchClient is the slice of the cluster client the search path needs.
type SearchClient interface {
	Search(ctx context.Context, index string, body []byte) (*osearch.Response, error)
}

// SearchHandler dispatches one query per batch and, when an evaluator is
// bound, folds the returned hit ids into the recall aggregate.
type SearchHandler struct {
	Client    SearchClient
	Index     string
	Exec      Executor
	Evaluator *recall.Evaluator
	// RecallSize caps how many top hits are scored. Zero scores every
	// returned hit, for when the recall depth equals the query size.
	RecallSize int
}

func (h *SearchHandler) Handle(ctx context.Context, batch Batch, w *metrics.WorkerStats) {
	for _, item := range batch.Items {
		w.Docs++

		res := h.Exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
			start := time.Now()
			resp, err := h.Client.Search(ctx, h.Index, item.Body)
			w.Record(time.Since(start))
			return resp, err
		})
		w.Retries += int64(res.Attempts - 1)

		if res.Err != nil {
			slog.Error("Search request failed", "error", res.Err, "query", item.ID, "attempts", res.Attempts)
			w.Fail++
			w.Errors++
			continue
		}

		w.Success++
		if h.Evaluator != nil {
			ids := hitIDs(res.Resp.Body)
			if h.RecallSize > 0 && len(ids) > h.RecallSize {
				ids = ids[:h.RecallSize]
			}
			h.Evaluator.Add(item.ID, ids)
		}
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func hitIDs(respBody []byte) []string {
	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		slog.Error("Failed to parse search response", "error", err)
		return nil
	}

	ids := make([]string, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}
