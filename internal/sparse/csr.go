// Package sparse reads query vectors stored in the binary CSR (Compressed
// Sparse Row) format used by the msmarco sparse embedding datasets:
//
//	int64 nrow, int64 ncol, int64 nnz
//	int64 indptr[nrow+1]
//	int32 indices[nnz]
//	float32 values[nnz]
//
// Each row decodes to a token-id -> weight map suitable for a neural_sparse
// query.
package sparse

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
)

// Matrix is a fully loaded CSR matrix of query vectors.
type Matrix struct {
	Rows    int
	Cols    int
	indptr  []int64
	indices []int32
	values  []float32
}

// Open reads a CSR file from disk.
func Open(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csr file: %w", err)
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read csr file %s: %w", path, err)
	}
	return m, nil
}

// Read parses a CSR matrix from r, validating the invariants the format
// promises: indptr[0] == 0, indptr is non-decreasing, indptr[nrow] == nnz,
// and every column index is within [0, ncol).
func Read(r io.Reader) (*Matrix, error) {
	var header [3]int64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, apperr.NewEncoding("csr header: %v", err)
	}
	nrow, ncol, nnz := header[0], header[1], header[2]
	if nrow < 0 || ncol < 0 || nnz < 0 {
		return nil, apperr.NewEncoding("csr header has negative sizes: rows=%d cols=%d nnz=%d", nrow, ncol, nnz)
	}

	indptr := make([]int64, nrow+1)
	if err := binary.Read(r, binary.LittleEndian, indptr); err != nil {
		return nil, apperr.NewEncoding("csr row pointers: %v", err)
	}
	if indptr[0] != 0 {
		return nil, apperr.NewEncoding("csr row pointers must start at 0, got %d", indptr[0])
	}
	for i := 1; i < len(indptr); i++ {
		if indptr[i] < indptr[i-1] {
			return nil, apperr.NewEncoding("csr row pointers decrease at row %d", i)
		}
	}
	if indptr[nrow] != nnz {
		return nil, apperr.NewEncoding("csr row pointers end at %d, expected nnz %d", indptr[nrow], nnz)
	}

	indices := make([]int32, nnz)
	if err := binary.Read(r, binary.LittleEndian, indices); err != nil {
		return nil, apperr.NewEncoding("csr column indices: %v", err)
	}
	for i, idx := range indices {
		if idx < 0 || int64(idx) >= ncol {
			return nil, apperr.NewEncoding("csr column index %d at position %d out of range [0, %d)", idx, i, ncol)
		}
	}

	values := make([]float32, nnz)
	if err := binary.Read(r, binary.LittleEndian, values); err != nil {
		return nil, apperr.NewEncoding("csr values: %v", err)
	}

	return &Matrix{
		Rows:    int(nrow),
		Cols:    int(ncol),
		indptr:  indptr,
		indices: indices,
		values:  values,
	}, nil
}

// Row decodes row i into a token -> weight map. Token ids become string keys
// to match the query_tokens wire format. An empty row yields an empty map.
func (m *Matrix) Row(i int) (map[string]float32, error) {
	if i < 0 || i >= m.Rows {
		return nil, apperr.NewEncoding("csr row %d out of range [0, %d)", i, m.Rows)
	}

	start, end := m.indptr[i], m.indptr[i+1]
	row := make(map[string]float32, end-start)
	for j := start; j < end; j++ {
		row[strconv.Itoa(int(m.indices[j]))] = m.values[j]
	}
	return row, nil
}

// NNZ returns the number of non-zero entries in row i.
func (m *Matrix) NNZ(i int) int {
	if i < 0 || i >= m.Rows {
		return 0
	}
	return int(m.indptr[i+1] - m.indptr[i])
}
