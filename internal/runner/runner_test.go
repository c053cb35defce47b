package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
	"github.com/chishui/opensearch-sparse-benchmark/internal/workload"
)

// spyClient records calls and answers 200 unless told otherwise. Responses
// queued in once are consumed in order before fail or the default applies.
type spyClient struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]*osearch.Response
	once  map[string][]*osearch.Response
}

func (c *spyClient) record(op string) *osearch.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op)
	if queued := c.once[op]; len(queued) > 0 {
		resp := queued[0]
		c.once[op] = queued[1:]
		return resp
	}
	if resp, ok := c.fail[op]; ok {
		return resp
	}
	return &osearch.Response{Status: 200, Body: []byte(`{}`)}
}

func (c *spyClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *spyClient) Bulk(ctx context.Context, index, body string) (*osearch.Response, error) {
	return c.record("bulk"), nil
}

func (c *spyClient) Search(ctx context.Context, index string, body []byte) (*osearch.Response, error) {
	return c.record("search"), nil
}

func (c *spyClient) CreateIndex(ctx context.Context, index string, payload []byte) (*osearch.Response, error) {
	return c.record("create-index"), nil
}

func (c *spyClient) DeleteIndex(ctx context.Context, index string) (*osearch.Response, error) {
	return c.record("delete-index"), nil
}

func (c *spyClient) PutIngestPipeline(ctx context.Context, name string, payload []byte) (*osearch.Response, error) {
	return c.record("put-ingest-pipeline"), nil
}

func (c *spyClient) PutSearchPipeline(ctx context.Context, name string, payload []byte) (*osearch.Response, error) {
	return c.record("put-search-pipeline"), nil
}

func (c *spyClient) Do(ctx context.Context, method, path string, payload []byte) (*osearch.Response, error) {
	return c.record(method + " " + path), nil
}

func writeWorkloadDir(t *testing.T, config string, files map[string]string) *workload.Workload {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(config), 0o644))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	wl, err := workload.Load(dir, nil)
	require.NoError(t, err)
	return wl
}

func TestRun_SkippedTasksNeverTouchTheCluster(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
tasks:
  - name: create-index
    payload: index.json
  - name: ping
    type: request
    url: /_cluster/health
`, map[string]string{"index.json": `{}`})

	client := &spyClient{}
	results, err := New(client).Run(context.Background(), wl, map[string]bool{
		"create-index": true,
		"ping":         true,
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, 0, client.callCount())
}

func TestRun_CreateIndexDeletesFirst(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
tasks:
  - name: create-index
    payload: index.json
    delete: true
`, map[string]string{"index.json": `{}`})

	client := &spyClient{}
	results, err := New(client).Run(context.Background(), wl, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"delete-index", "create-index"}, client.calls)
	assert.Equal(t, StatusSuccess, results[0].Status)
}

func TestRun_CreateIndexToleratesMissingOnDelete(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
tasks:
  - name: create-index
    payload: index.json
    delete: true
`, map[string]string{"index.json": `{}`})

	client := &spyClient{fail: map[string]*osearch.Response{
		"delete-index": {Status: 404, Body: []byte(`{"error":"index_not_found_exception"}`)},
	}}
	results, err := New(client).Run(context.Background(), wl, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, results[0].Status)
}

func TestRun_RequestSubstitutesParams(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: test_index
tasks:
  - name: warm
    type: request
    method: POST
    url: /{{index}}/_refresh
`, nil)

	client := &spyClient{}
	_, err := New(client).Run(context.Background(), wl, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"POST /test_index/_refresh"}, client.calls)
}

func TestRun_RequestRetriesTransientFailure(t *testing.T) {
	wl := writeWorkloadDir(t, `
tasks:
  - name: ping
    type: request
    url: /_cluster/health
`, nil)

	client := &spyClient{once: map[string][]*osearch.Response{
		"GET /_cluster/health": {{Status: 503, Body: []byte(`{"error":"unavailable"}`)}},
	}}
	r := New(client)
	r.RetryDelay = time.Millisecond

	results, err := r.Run(context.Background(), wl, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, []string{"GET /_cluster/health", "GET /_cluster/health"}, client.calls)
}

func TestRun_CreateIndexRetriesTransientFailure(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
tasks:
  - name: create-index
    payload: index.json
`, map[string]string{"index.json": `{}`})

	client := &spyClient{once: map[string][]*osearch.Response{
		"create-index": {{Status: 503, Body: []byte(`{"error":"unavailable"}`)}},
	}}
	r := New(client)
	r.RetryDelay = time.Millisecond

	results, err := r.Run(context.Background(), wl, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, []string{"create-index", "create-index"}, client.calls)
}

func TestRun_RequestMaxRetriesZeroFailsOnFirstAttempt(t *testing.T) {
	wl := writeWorkloadDir(t, `
tasks:
  - name: ping
    type: request
    url: /_cluster/health
    max_retries: 0
`, nil)

	client := &spyClient{fail: map[string]*osearch.Response{
		"GET /_cluster/health": {Status: 503, Body: []byte(`{"error":"unavailable"}`)},
	}}
	r := New(client)
	r.RetryDelay = time.Millisecond

	results, err := r.Run(context.Background(), wl, nil)

	require.Error(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Len(t, client.calls, 1)
}

func TestRun_StopOnFailureAbortsRemaining(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
tasks:
  - name: create-index
    payload: index.json
  - name: ping
    type: request
    url: /_cluster/health
`, map[string]string{"index.json": `{}`})

	client := &spyClient{fail: map[string]*osearch.Response{
		"create-index": {Status: 500, Body: []byte(`{"error":"boom"}`)},
	}}
	r := New(client)
	r.RetryDelay = time.Millisecond

	results, err := r.Run(context.Background(), wl, nil)

	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, StatusAborted, results[1].Status)
	// Every retry hit create-index; the aborted request never went out.
	assert.Equal(t, 4, client.callCount())
	assert.NotContains(t, client.calls, "GET /_cluster/health")
}

func TestRun_StopOnFailureDisabledContinues(t *testing.T) {
	wl := writeWorkloadDir(t, `
parameters:
  index: idx
stop_on_failure: false
tasks:
  - name: create-index
    payload: index.json
  - name: ping
    type: request
    url: /_cluster/health
`, map[string]string{"index.json": `{}`})

	client := &spyClient{fail: map[string]*osearch.Response{
		"create-index": {Status: 500, Body: []byte(`{"error":"boom"}`)},
	}}
	r := New(client)
	r.RetryDelay = time.Millisecond

	results, err := r.Run(context.Background(), wl, nil)

	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, StatusSuccess, results[1].Status)
}

func TestRun_IngestEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var bulkDocCounts []int
	deleted, created := false, false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/test_index":
			deleted = true
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"index_not_found_exception"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/test_index":
			created = true
			fmt.Fprint(w, `{"acknowledged":true}`)
		case r.URL.Path == "/test_index/_bulk":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bulkDocCounts = append(bulkDocCounts, strings.Count(string(body), "\n")/2)
			mu.Unlock()
			fmt.Fprint(w, `{"errors":false,"items":[]}`)
		default:
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
		}
	}))
	defer server.Close()

	docs := make([]string, 250)
	for i := range docs {
		docs[i] = fmt.Sprintf(`{"passage_embedding": {"tok%d": 1.0}}`, i)
	}

	wl := writeWorkloadDir(t, `
parameters:
  index: test_index
tasks:
  - name: create-index
    payload: index.json
    delete: true
  - name: ingest
    generator:
      kind: docs
      path: docs.jsonl
    clients: 1
    bulk_size: 100
`, map[string]string{
		"index.json": `{"settings": {"index": {"number_of_shards": 1}}}`,
		"docs.jsonl": strings.Join(docs, "\n") + "\n",
	})

	client, err := osearch.New(osearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	results, err := New(client).Run(context.Background(), wl, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, deleted)
	assert.True(t, created)
	assert.Equal(t, StatusSuccess, results[1].Status)

	sum := results[1].Summary
	require.NotNil(t, sum)
	assert.Equal(t, int64(250), sum.Produced)
	assert.Equal(t, int64(250), sum.Success)
	assert.Equal(t, int64(0), sum.Fail)
	assert.Equal(t, []int{100, 100, 50}, bulkDocCounts)
}

func TestOpenSource_UnknownKind(t *testing.T) {
	wl := &workload.Workload{Dir: t.TempDir()}
	_, err := openSource(context.Background(), wl, workload.GeneratorConfig{Kind: "csv"}, nil)
	assert.Error(t, err)
}

