// Package osearch wraps the official OpenSearch Go client with the small set
// of operations the benchmark issues: bulk ingest, search, index and
// pipeline management, and generic HTTP requests.
package osearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Response is a fully drained HTTP response from the cluster.
type Response struct {
	Status int
	Body   []byte
}

// IsError reports whether the cluster answered with a non-2xx status.
func (r *Response) IsError() bool {
	return r.Status < 200 || r.Status > 299
}

type Client struct {
	os      *opensearch.Client
	timeout contextTimeout
}

type contextTimeout = func(ctx context.Context) (context.Context, context.CancelFunc)

// New creates a client. Built-in transport retries are disabled: the retry
// executor owns all retry decisions so attempt counts stay deterministic.
func New(cfg Config) (*Client, error) {
	osCfg := opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
	}
	if cfg.Insecure {
		osCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	osClient, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		os: osClient,
		timeout: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithTimeout(ctx, timeout)
		},
	}, nil
}

// Bulk sends one NDJSON bulk body. Refresh is left to the cluster's own
// schedule, as a load test should not force segment flushes.
func (c *Client) Bulk(ctx context.Context, index, body string) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	req := opensearchapi.BulkRequest{
		Index: index,
		Body:  strings.NewReader(body),
	}
	return c.drain(req.Do(ctx, c.os))
}

// Search executes one search request body against index.
func (c *Client) Search(ctx context.Context, index string, body []byte) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	req := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	return c.drain(req.Do(ctx, c.os))
}

// CreateIndex creates index with the given settings/mappings payload.
func (c *Client) CreateIndex(ctx context.Context, index string, payload []byte) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	req := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(payload),
	}
	return c.drain(req.Do(ctx, c.os))
}

// DeleteIndex deletes index. Callers decide whether a 404 matters.
func (c *Client) DeleteIndex(ctx context.Context, index string) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	req := opensearchapi.IndicesDeleteRequest{
		Index: []string{index},
	}
	return c.drain(req.Do(ctx, c.os))
}

// PutIngestPipeline creates or replaces an ingest pipeline.
func (c *Client) PutIngestPipeline(ctx context.Context, name string, payload []byte) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	req := opensearchapi.IngestPutPipelineRequest{
		PipelineID: name,
		Body:       bytes.NewReader(payload),
	}
	return c.drain(req.Do(ctx, c.os))
}

// PutSearchPipeline creates or replaces a search pipeline. The typed API has
// no endpoint for search pipelines, so this goes through the raw transport.
func (c *Client) PutSearchPipeline(ctx context.Context, name string, payload []byte) (*Response, error) {
	return c.Do(ctx, http.MethodPut, "/_search/pipeline/"+name, payload)
}

// Do issues an arbitrary request against the cluster, for the generic
// request task.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.os.Transport.Perform(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) drain(resp *opensearchapi.Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
