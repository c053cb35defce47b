// Package runner executes a parsed workload task by task: index and pipeline
// setup, generic requests, and the ingest/search load phases driven through
// the worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/engine"
	"github.com/chishui/opensearch-sparse-benchmark/internal/generator"
	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
	"github.com/chishui/opensearch-sparse-benchmark/internal/recall"
	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
	"github.com/chishui/opensearch-sparse-benchmark/internal/workload"
)

// Client is the cluster surface the runner drives. *osearch.Client satisfies
// it; tests substitute fakes.
type Client interface {
	engine.BulkClient
	engine.SearchClient
	CreateIndex(ctx context.Context, index string, payload []byte) (*osearch.Response, error)
	DeleteIndex(ctx context.Context, index string) (*osearch.Response, error)
	PutIngestPipeline(ctx context.Context, name string, payload []byte) (*osearch.Response, error)
	PutSearchPipeline(ctx context.Context, name string, payload []byte) (*osearch.Response, error)
	Do(ctx context.Context, method, path string, payload []byte) (*osearch.Response, error)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
)

// TaskResult is the outcome of one task, load summary and recall score
// included when the task produced them.
type TaskResult struct {
	Name     string
	Kind     workload.Kind
	Status   Status
	Duration time.Duration
	Err      error
	Summary  *metrics.Summary
	Recall   *recall.Score
}

type Runner struct {
	client Client

	// RetryDelay and RetryMaxDelay override the backoff of the one-shot
	// task executor; zero keeps the executor defaults.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

func New(client Client) *Runner {
	return &Runner{client: client}
}

// executor builds the retry executor for a one-shot task. Load tasks build
// theirs from their engine config instead.
func (r *Runner) executor(task workload.Task) engine.Executor {
	return engine.Executor{
		MaxRetries: task.MaxRetries,
		Delay:      r.RetryDelay,
		MaxDelay:   r.RetryMaxDelay,
	}
}

// Run executes every task in order. Skipped tasks are recorded but never
// touch the cluster. When a task fails and the workload says stop_on_failure,
// the remaining tasks are recorded as aborted and execution ends; the
// returned error is the first task failure, the results always cover the
// whole task list.
func (r *Runner) Run(ctx context.Context, wl *workload.Workload, skip map[string]bool) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(wl.Tasks))
	var firstErr error

	for i, task := range wl.Tasks {
		if skip[task.Name] {
			slog.Info("Skipping task", "task", task.Name)
			results = append(results, TaskResult{Name: task.Name, Kind: task.Kind, Status: StatusSkipped})
			continue
		}

		slog.Info("Running task", "task", task.Name, "type", string(task.Kind))
		start := time.Now()
		res := r.runTask(ctx, wl, task)
		res.Name = task.Name
		res.Kind = task.Kind
		res.Duration = time.Since(start)
		results = append(results, res)

		if res.Status == StatusFailed {
			slog.Error("Task failed", "task", task.Name, "error", res.Err)
			if firstErr == nil {
				firstErr = fmt.Errorf("task %q: %w", task.Name, res.Err)
			}
			if wl.StopOnFailure {
				for _, rest := range wl.Tasks[i+1:] {
					results = append(results, TaskResult{Name: rest.Name, Kind: rest.Kind, Status: StatusAborted})
				}
				return results, firstErr
			}
			continue
		}

		slog.Info("Task completed", "task", task.Name, "duration", res.Duration)

		if task.Sleep > 0 {
			slog.Info("Sleeping after task", "task", task.Name, "duration", task.Sleep)
			select {
			case <-time.After(task.Sleep):
			case <-ctx.Done():
				for _, rest := range wl.Tasks[i+1:] {
					results = append(results, TaskResult{Name: rest.Name, Kind: rest.Kind, Status: StatusAborted})
				}
				return results, ctx.Err()
			}
		}
	}

	return results, firstErr
}

func (r *Runner) runTask(ctx context.Context, wl *workload.Workload, task workload.Task) TaskResult {
	var err error
	res := TaskResult{}

	switch task.Kind {
	case workload.KindCreateIndex:
		err = r.createIndex(ctx, wl, task.CreateIndex, r.executor(task))
	case workload.KindCreateIngestPipeline:
		err = r.putPipeline(ctx, wl, task.Pipeline, r.client.PutIngestPipeline, r.executor(task))
	case workload.KindCreateSearchPipeline:
		err = r.putPipeline(ctx, wl, task.Pipeline, r.client.PutSearchPipeline, r.executor(task))
	case workload.KindRequest:
		err = r.request(ctx, wl, task.Request, r.executor(task))
	case workload.KindIngest:
		res.Summary, err = r.ingest(ctx, wl, task.Ingest)
	case workload.KindSearch:
		res.Summary, res.Recall, err = r.search(ctx, wl, task.Search)
	default:
		err = apperr.NewConfig(fmt.Sprintf("task %q has unsupported type %s", task.Name, task.Kind))
	}

	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = StatusSuccess
	return res
}

func (r *Runner) createIndex(ctx context.Context, wl *workload.Workload, spec *workload.CreateIndexSpec, exec engine.Executor) error {
	if spec.Delete {
		res := exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
			return r.client.DeleteIndex(ctx, spec.Index)
		})
		// A missing index is fine; the point is a clean slate.
		if res.Err != nil && !isNotFound(res.Err) {
			return fmt.Errorf("delete index %s: %w", spec.Index, res.Err)
		}
	}

	payload, err := wl.LoadPayload(spec.Payload)
	if err != nil {
		return err
	}

	res := exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
		return r.client.CreateIndex(ctx, spec.Index, payload)
	})
	if res.Err != nil {
		return fmt.Errorf("create index %s: %w", spec.Index, res.Err)
	}
	return nil
}

type putPipelineFunc func(ctx context.Context, name string, payload []byte) (*osearch.Response, error)

func (r *Runner) putPipeline(ctx context.Context, wl *workload.Workload, spec *workload.PipelineSpec, put putPipelineFunc, exec engine.Executor) error {
	payload, err := wl.LoadPayload(spec.Payload)
	if err != nil {
		return err
	}

	res := exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
		return put(ctx, spec.Name, payload)
	})
	if res.Err != nil {
		return fmt.Errorf("put pipeline %s: %w", spec.Name, res.Err)
	}
	return nil
}

func (r *Runner) request(ctx context.Context, wl *workload.Workload, spec *workload.RequestSpec, exec engine.Executor) error {
	var payload []byte
	if spec.Payload != "" {
		var err error
		payload, err = wl.LoadPayload(spec.Payload)
		if err != nil {
			return err
		}
	}

	url := workload.SubstituteParams(spec.URL, wl.Params)
	res := exec.Do(ctx, func(ctx context.Context) (*osearch.Response, error) {
		return r.client.Do(ctx, spec.Method, url, payload)
	})
	if res.Err != nil {
		return fmt.Errorf("%s %s: %w", spec.Method, url, res.Err)
	}
	return nil
}

func isNotFound(err error) bool {
	var he *apperr.HTTPError
	return errors.As(err, &he) && he.Status == 404
}

func (r *Runner) ingest(ctx context.Context, wl *workload.Workload, spec *workload.IngestSpec) (*metrics.Summary, error) {
	src, err := openSource(ctx, wl, spec.Generator, nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	bulkSize := spec.Engine.BulkSize
	if bulkSize <= 0 {
		bulkSize = engine.DefaultBulkSize
	}

	h := &engine.IngestHandler{
		Client: r.client,
		Index:  spec.Index,
		Exec:   spec.Engine.Executor(),
	}
	return engine.New(spec.Engine).Run(ctx, src, bulkSize, h)
}

func (r *Runner) search(ctx context.Context, wl *workload.Workload, spec *workload.SearchSpec) (*metrics.Summary, *recall.Score, error) {
	src, err := openSource(ctx, wl, spec.Generator, &spec.Query)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	var evaluator *recall.Evaluator
	recallSize := 0
	if spec.Recall != nil {
		truth, err := recall.LoadTruth(wl.Path(spec.Recall.TruthFile))
		if err != nil {
			return nil, nil, err
		}
		evaluator = recall.NewEvaluator(truth)
		recallSize = spec.Recall.Size
	}

	h := &engine.SearchHandler{
		Client:     r.client,
		Index:      spec.Index,
		Exec:       spec.Engine.Executor(),
		Evaluator:  evaluator,
		RecallSize: recallSize,
	}

	// Queries are dispatched one per request, never batched.
	sum, err := engine.New(spec.Engine).Run(ctx, src, 1, h)
	if err != nil {
		return sum, nil, err
	}

	var score *recall.Score
	if evaluator != nil {
		s := evaluator.Score()
		score = &s
	}
	return sum, score, nil
}

// openSource builds the item source a load task draws from. query is set only
// for search tasks using the sparse-queries generator.
func openSource(ctx context.Context, wl *workload.Workload, cfg workload.GeneratorConfig, query *request.SearchSpec) (generator.Source, error) {
	switch cfg.Kind {
	case "docs":
		return generator.OpenDocs(generator.DocsConfig{
			Path:        wl.Path(cfg.Path),
			SourceField: cfg.SourceField,
			TargetField: cfg.TargetField,
		})
	case "sparse-queries":
		if query == nil {
			return nil, apperr.NewConfig("sparse-queries generator is only valid for search tasks")
		}
		return generator.OpenQueries(wl.Path(cfg.Path), *query)
	case "exec":
		return generator.OpenExec(ctx, generator.ExecConfig{Command: cfg.Command, Dir: wl.Dir})
	default:
		return nil, apperr.NewConfig(fmt.Sprintf("unknown generator kind: %q", cfg.Kind))
	}
}
