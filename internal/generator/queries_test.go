package generator

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
)

func writeCSR(t *testing.T, nrow, ncol int64, indptr []int64, indices []int32, values []float32) string {
	t.Helper()

	var buf bytes.Buffer
	for _, v := range []any{[]int64{nrow, ncol, int64(len(indices))}, indptr, indices, values} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	path := filepath.Join(t.TempDir(), "queries.csr")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testSpec() request.SearchSpec {
	return request.SearchSpec{
		Field:  "passage_embedding",
		Params: request.MethodParams{TopN: 3, HeapFactor: 1.2, K: 10},
		Size:   10,
	}
}

func TestQuerySource_EmitsOneQueryPerRow(t *testing.T) {
	// Row 0 has two tokens, row 1 has one.
	path := writeCSR(t, 2, 100,
		[]int64{0, 2, 3},
		[]int32{5, 17, 42},
		[]float32{0.5, 1.25, 2.0},
	)

	src, err := OpenQueries(path, testSpec())
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", first.ID)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(first.Body, &body))
	assert.Contains(t, body, "query")
	assert.JSONEq(t, "false", string(body["_source"]))

	second, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", second.ID)
	assert.Contains(t, string(second.Body), `"42":2`)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestQuerySource_EmptyRowIsItemError(t *testing.T) {
	path := writeCSR(t, 2, 10,
		[]int64{0, 0, 1},
		[]int32{3},
		[]float32{1.0},
	)

	src, err := OpenQueries(path, testSpec())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	var qe *apperr.QuerySpecError
	require.ErrorAs(t, err, &qe)

	// The next row still decodes.
	item, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", item.ID)
}

func TestOpenQueries_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csr")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))

	_, err := OpenQueries(path, testSpec())
	assert.Error(t, err)
}
