// Package report renders a finished run as a human-readable table and an
// optional machine-readable JSON file.
package report

import (
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/chishui/opensearch-sparse-benchmark/internal/metrics"
	"github.com/chishui/opensearch-sparse-benchmark/internal/recall"
	"github.com/chishui/opensearch-sparse-benchmark/internal/runner"
)

type Report struct {
	Meta  Meta        `json:"meta"`
	Tasks []TaskEntry `json:"tasks"`
}

type Meta struct {
	RunID       string          `json:"run_id"`
	Workload    string          `json:"workload"`
	Timestamp   time.Time       `json:"timestamp"`
	Duration    time.Duration   `json:"duration"`
	Environment EnvironmentInfo `json:"environment"`
}

type EnvironmentInfo struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
}

type TaskEntry struct {
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Status   string           `json:"status"`
	Duration time.Duration    `json:"duration"`
	Error    string           `json:"error,omitempty"`
	Summary  *metrics.Summary `json:"summary,omitempty"`
	Recall   *recall.Score    `json:"recall,omitempty"`
}

// New assembles the report for one workload run. The run id makes reports
// from repeated runs of the same workload distinguishable when collected.
func New(workloadDir string, started time.Time, results []runner.TaskResult) *Report {
	r := &Report{
		Meta: Meta{
			RunID:     uuid.NewString(),
			Workload:  workloadDir,
			Timestamp: started,
			Duration:  time.Since(started),
			Environment: EnvironmentInfo{
				GoVersion: runtime.Version(),
				OS:        runtime.GOOS,
				Arch:      runtime.GOARCH,
				NumCPU:    runtime.NumCPU(),
			},
		},
	}

	for _, res := range results {
		entry := TaskEntry{
			Name:     res.Name,
			Type:     string(res.Kind),
			Status:   string(res.Status),
			Duration: res.Duration,
			Summary:  res.Summary,
			Recall:   res.Recall,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		r.Tasks = append(r.Tasks, entry)
	}

	return r
}
