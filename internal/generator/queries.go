package generator

import (
	"context"
	"io"
	"strconv"

	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
	"github.com/chishui/opensearch-sparse-benchmark/internal/sparse"
)

type querySource struct {
	matrix *sparse.Matrix
	spec   request.SearchSpec
	row    int
}

// OpenQueries streams neural_sparse query bodies, one per row of a binary
// CSR file. The row index doubles as the query id for ground-truth lookup.
func OpenQueries(path string, spec request.SearchSpec) (Source, error) {
	m, err := sparse.Open(path)
	if err != nil {
		return nil, err
	}
	return &querySource{matrix: m, spec: spec}, nil
}

func (s *querySource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if s.row >= s.matrix.Rows {
		return Item{}, io.EOF
	}

	id := strconv.Itoa(s.row)
	tokens, err := s.matrix.Row(s.row)
	s.row++
	if err != nil {
		return Item{}, err
	}

	body, err := request.NeuralSparseQuery(s.spec, tokens)
	if err != nil {
		// Empty rows are a per-item condition; the stream keeps going.
		return Item{}, err
	}
	return Item{ID: id, Body: body}, nil
}

func (s *querySource) Close() error { return nil }
