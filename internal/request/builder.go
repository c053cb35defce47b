// Package request assembles the wire payloads the benchmark sends to the
// cluster: NDJSON bulk bodies for ingestion and neural_sparse query bodies
// for search.
package request

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
)

// BulkDoc is one document queued for a bulk request. Body must be a single
// JSON object on one line.
type BulkDoc struct {
	ID   string
	Body json.RawMessage
}

// BulkBody builds one _bulk request body. Each document contributes an
// action line followed by its source line, in input order. The cluster's
// bulk response items are paired positionally with this order, so callers
// attribute per-document errors by index.
func BulkBody(index string, docs []BulkDoc) (string, error) {
	var sb strings.Builder
	for _, doc := range docs {
		action := map[string]map[string]string{"index": {"_index": index}}
		if doc.ID != "" {
			action["index"]["_id"] = doc.ID
		}
		line, err := json.Marshal(action)
		if err != nil {
			return "", fmt.Errorf("marshal bulk action: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
		sb.Write(compactLine(doc.Body))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// compactLine strips newlines from a document body so it stays a single
// NDJSON line.
func compactLine(body json.RawMessage) []byte {
	if !strings.ContainsAny(string(body), "\n\r") {
		return body
	}
	out := make([]byte, 0, len(body))
	for _, b := range body {
		if b != '\n' && b != '\r' {
			out = append(out, b)
		}
	}
	return out
}

// MethodParams are the neural_sparse method parameters forwarded verbatim
// from task configuration.
type MethodParams struct {
	TopN       int     `json:"top_n"`
	HeapFactor float64 `json:"heap_factor"`
	K          int     `json:"k"`
}

// SearchSpec configures neural sparse query construction for one search task.
type SearchSpec struct {
	Field  string
	Params MethodParams
	Size   int
}

type neuralSparseClause struct {
	QueryTokens      map[string]float32 `json:"query_tokens"`
	MethodParameters MethodParams       `json:"method_parameters"`
}

type searchBody struct {
	Source bool           `json:"_source"`
	Query  map[string]any `json:"query"`
	Size   int            `json:"size"`
}

// NeuralSparseQuery builds a search request body from a decoded sparse
// vector. A vector with no tokens cannot match anything and is rejected as a
// query spec error before any request is dispatched.
func NeuralSparseQuery(spec SearchSpec, tokens map[string]float32) ([]byte, error) {
	if len(tokens) == 0 {
		return nil, apperr.NewQuerySpec("sparse query has no tokens and no fallback is configured")
	}

	body := searchBody{
		Source: false,
		Query: map[string]any{
			"neural_sparse": map[string]neuralSparseClause{
				spec.Field: {
					QueryTokens:      tokens,
					MethodParameters: spec.Params,
				},
			},
		},
		Size: spec.Size,
	}

	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal neural_sparse query: %w", err)
	}
	return out, nil
}
