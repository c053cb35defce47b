package workload

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
	"github.com/chishui/opensearch-sparse-benchmark/internal/engine"
	"github.com/chishui/opensearch-sparse-benchmark/internal/request"
)

// rawConfig mirrors config.yml before per-kind validation.
type rawConfig struct {
	Parameters    map[string]string `yaml:"parameters"`
	StopOnFailure *bool             `yaml:"stop_on_failure"`
	Tasks         []rawTask         `yaml:"tasks"`
}

type rawTask struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Payload string `yaml:"payload"`
	Delete  bool   `yaml:"delete"`
	Sleep   int    `yaml:"sleep"`
	Method  string `yaml:"method"`
	URL     string `yaml:"url"`

	Generator *GeneratorConfig `yaml:"generator"`
	Recall    *RecallConfig    `yaml:"recall"`

	Field      string  `yaml:"field"`
	TopN       int     `yaml:"top_n"`
	HeapFactor float64 `yaml:"heap_factor"`
	K          int     `yaml:"k"`
	Size       int     `yaml:"size"`

	Clients          int     `yaml:"clients"`
	BulkSize         int     `yaml:"bulk_size"`
	QueueSize        int     `yaml:"queue_size"`
	MaxRetries       *int    `yaml:"max_retries"`
	TotalCount       int     `yaml:"total_count"`
	TargetThroughput float64 `yaml:"target_throughput"`
}

// Load reads <dir>/config.yml and builds the task list. Runtime parameters
// override the workload's declared defaults. All validation errors are
// ConfigErrors: nothing runs against a half-understood workload.
func Load(dir string, runtimeParams map[string]string) (*Workload, error) {
	configPath := filepath.Join(dir, "config.yml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, apperr.NewConfigWrap("read workload config", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperr.NewConfigWrap("parse workload config", err)
	}

	params := make(map[string]string, len(raw.Parameters)+len(runtimeParams))
	for k, v := range raw.Parameters {
		params[k] = v
	}
	for k, v := range runtimeParams {
		params[k] = v
	}

	wl := &Workload{
		Dir:           dir,
		Params:        params,
		StopOnFailure: raw.StopOnFailure == nil || *raw.StopOnFailure,
	}

	if len(raw.Tasks) == 0 {
		return nil, apperr.NewConfig("workload has no tasks")
	}

	for i, rt := range raw.Tasks {
		if rt.Name == "" {
			return nil, apperr.NewConfig(fmt.Sprintf("task at index %d has no name", i))
		}
		task, err := buildTask(rt, params)
		if err != nil {
			return nil, err
		}
		wl.Tasks = append(wl.Tasks, task)
	}

	slog.Info("Parsed workload", "path", configPath, "tasks", len(wl.Tasks))
	return wl, nil
}

// buildTask validates one raw task into its tagged variant. The kind comes
// from the explicit type field, falling back to the task name.
func buildTask(rt rawTask, params map[string]string) (Task, error) {
	kind := Kind(rt.Type)
	if rt.Type == "" {
		kind = Kind(rt.Name)
	}

	maxRetries := engine.DefaultMaxRetries
	if rt.MaxRetries != nil {
		maxRetries = *rt.MaxRetries
	}

	task := Task{
		Name:       rt.Name,
		Kind:       kind,
		Sleep:      time.Duration(rt.Sleep) * time.Second,
		MaxRetries: maxRetries,
	}

	switch kind {
	case KindCreateIndex:
		index := params["index"]
		if index == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: 'index' parameter is required", rt.Name))
		}
		if rt.Payload == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: payload file is required", rt.Name))
		}
		task.CreateIndex = &CreateIndexSpec{Index: index, Payload: rt.Payload, Delete: rt.Delete}

	case KindCreateIngestPipeline, KindCreateSearchPipeline:
		paramName := "ingest-pipeline"
		if kind == KindCreateSearchPipeline {
			paramName = "search-pipeline"
		}
		name := params[paramName]
		if name == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: %q parameter is required", rt.Name, paramName))
		}
		if rt.Payload == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: payload file is required", rt.Name))
		}
		task.Pipeline = &PipelineSpec{Name: name, Payload: rt.Payload}

	case KindIngest:
		index := params["index"]
		if index == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: 'index' parameter is required", rt.Name))
		}
		if rt.Generator == nil {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: generator is required", rt.Name))
		}
		task.Ingest = &IngestSpec{
			Index:     index,
			Generator: *rt.Generator,
			Engine:    engineConfig(rt, maxRetries),
		}

	case KindSearch:
		index := params["index"]
		if index == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: 'index' parameter is required", rt.Name))
		}
		if rt.Generator == nil {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: generator is required", rt.Name))
		}
		spec := &SearchSpec{
			Index:     index,
			Generator: *rt.Generator,
			Engine:    engineConfig(rt, maxRetries),
			Query: request.SearchSpec{
				Field:  rt.Field,
				Params: request.MethodParams{TopN: rt.TopN, HeapFactor: rt.HeapFactor, K: rt.K},
				Size:   rt.Size,
			},
			Recall: rt.Recall,
		}
		if rt.Generator.Kind == "sparse-queries" && spec.Query.Field == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: 'field' is required for sparse-queries generators", rt.Name))
		}
		if spec.Recall != nil && spec.Recall.TruthFile == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: recall requires 'truth_file'", rt.Name))
		}
		task.Search = spec

	case KindRequest:
		if rt.URL == "" {
			return task, apperr.NewConfig(fmt.Sprintf("task %q: 'url' is required", rt.Name))
		}
		method := rt.Method
		if method == "" {
			method = "GET"
		}
		task.Request = &RequestSpec{Method: method, URL: rt.URL, Payload: rt.Payload}

	default:
		return task, apperr.NewConfig(fmt.Sprintf("unknown task type: %s (task %q)", kind, rt.Name))
	}

	return task, nil
}

func engineConfig(rt rawTask, maxRetries int) engine.Config {
	return engine.Config{
		Clients:          rt.Clients,
		BulkSize:         rt.BulkSize,
		QueueSize:        rt.QueueSize,
		MaxRetries:       maxRetries,
		TotalCount:       rt.TotalCount,
		TargetThroughput: rt.TargetThroughput,
	}
}

var paramPattern = regexp.MustCompile(`\{\{(\S+?)\}\}`)

// SubstituteParams replaces {{param}} placeholders. Unknown parameters keep
// their placeholder and warn, so a typo shows up in the cluster's error
// message instead of vanishing silently.
func SubstituteParams(content string, params map[string]string) string {
	return paramPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := paramPattern.FindStringSubmatch(match)[1]
		if v, ok := params[key]; ok {
			return v
		}
		slog.Warn("Parameter not found, keeping placeholder", "param", key)
		return match
	})
}

// LoadPayload reads a task's payload file relative to the workload dir and
// substitutes parameters into it.
func (w *Workload) LoadPayload(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(w.Dir, name))
	if err != nil {
		return nil, apperr.NewConfigWrap("read payload file", err)
	}

	content := SubstituteParams(string(data), w.Params)
	if !json.Valid([]byte(content)) {
		return nil, apperr.NewConfig(fmt.Sprintf("payload %s is not valid JSON after substitution", name))
	}
	return []byte(content), nil
}

// Path resolves a workload-relative file path.
func (w *Workload) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(w.Dir, name)
}
