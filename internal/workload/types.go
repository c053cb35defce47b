// Package workload loads a benchmark workload directory: a config.yml with
// named parameters and an ordered task list, plus payload files referenced
// by the tasks.
package workload

import (
	"time"

	"github.com/chishui/opensearch-sparse-benchmark/internal/engine"
	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
)

type Kind string

const (
	KindCreateIndex          Kind = "create-index"
	KindCreateIngestPipeline Kind = "create-ingest-pipeline"
	KindCreateSearchPipeline Kind = "create-search-pipeline"
	KindIngest               Kind = "ingest"
	KindSearch               Kind = "search"
	KindRequest              Kind = "request"
)

// Task is a fully validated unit of work. Exactly one of the kind-specific
// spec fields is set, matching Kind, so each kind's options are statically
// enumerable instead of living in one sparse catch-all record.
type Task struct {
	Name  string
	Kind  Kind
	Sleep time.Duration
	// MaxRetries bounds the retry executor for one-shot tasks. Load tasks
	// carry their own budget inside their engine config.
	MaxRetries int

	CreateIndex *CreateIndexSpec
	Pipeline    *PipelineSpec
	Ingest      *IngestSpec
	Search      *SearchSpec
	Request     *RequestSpec
}

// CreateIndexSpec creates (optionally after deleting) an index from a static
// payload file.
type CreateIndexSpec struct {
	Index   string
	Payload string
	Delete  bool
}

// PipelineSpec creates an ingest or search pipeline from a static payload.
type PipelineSpec struct {
	Name    string
	Payload string
}

// IngestSpec streams generated documents through the worker pool.
type IngestSpec struct {
	Index     string
	Generator GeneratorConfig
	Engine    engine.Config
}

// SearchSpec streams generated queries through the worker pool, optionally
// scoring recall against a ground-truth file.
type SearchSpec struct {
	Index     string
	Generator GeneratorConfig
	Engine    engine.Config
	Query     request.SearchSpec
	Recall    *RecallConfig
}

// RequestSpec issues one arbitrary HTTP call.
type RequestSpec struct {
	Method  string
	URL     string
	Payload string
}

// GeneratorConfig names the item source bound to an ingest or search task.
type GeneratorConfig struct {
	Kind        string   `yaml:"kind"` // docs | sparse-queries | exec
	Path        string   `yaml:"path"`
	SourceField string   `yaml:"source_field"`
	TargetField string   `yaml:"target_field"`
	Command     []string `yaml:"command"`
}

// RecallConfig points a search task at its ground-truth relevance file.
type RecallConfig struct {
	TruthFile string `yaml:"truth_file"`
	Size      int    `yaml:"size"`
}

// Workload is the immutable, parsed form of a workload directory.
type Workload struct {
	Dir           string
	Params        map[string]string
	StopOnFailure bool
	Tasks         []Task
}
