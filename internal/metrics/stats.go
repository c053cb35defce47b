// Package metrics aggregates per-worker load-test measurements into the
// task summary the final report is built from.
package metrics

import "time"

// WorkerStats is owned by exactly one worker for the duration of a task run,
// so no locking is needed while it is being filled.
type WorkerStats struct {
	WorkerID  int
	Success   int64
	Fail      int64
	Retries   int64
	Requests  int64
	Docs      int64
	Errors    int64
	Latencies []time.Duration
	Start     time.Time
	End       time.Time
}

func (w *WorkerStats) Record(latency time.Duration) {
	w.Requests++
	w.Latencies = append(w.Latencies, latency)
}

func (w *WorkerStats) Duration() time.Duration {
	if w.End.Before(w.Start) || w.Start.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

func (w *WorkerStats) Throughput() float64 {
	d := w.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(w.Docs) / d
}

// Summary is the aggregated outcome of one ingest or search task.
type Summary struct {
	Produced   int64          `json:"produced"`
	Docs       int64          `json:"docs"`
	Success    int64          `json:"success"`
	Fail       int64          `json:"fail"`
	Requests   int64          `json:"requests"`
	Retries    int64          `json:"retries"`
	Errors     int64          `json:"errors"`
	Throughput float64        `json:"throughput"`
	Latency    LatencyStats   `json:"latency"`
	PerWorker  []*WorkerStats `json:"-"`
}

func (s *Summary) SuccessRate() float64 {
	total := s.Success + s.Fail
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}

// Aggregate folds per-worker stats into a task summary. Throughput is
// measured against the wall-clock span of the whole pool, not the sum of
// worker durations, since workers run concurrently.
func Aggregate(workers []*WorkerStats, produced int64) *Summary {
	sum := &Summary{Produced: produced, PerWorker: workers}

	var earliest, latest time.Time
	var all []time.Duration
	for _, w := range workers {
		sum.Success += w.Success
		sum.Fail += w.Fail
		sum.Requests += w.Requests
		sum.Retries += w.Retries
		sum.Docs += w.Docs
		sum.Errors += w.Errors
		all = append(all, w.Latencies...)

		if !w.Start.IsZero() && (earliest.IsZero() || w.Start.Before(earliest)) {
			earliest = w.Start
		}
		if w.End.After(latest) {
			latest = w.End
		}
	}

	if span := latest.Sub(earliest); span > 0 {
		sum.Throughput = float64(sum.Docs) / span.Seconds()
	}
	sum.Latency = ComputeLatencyStats(all)

	return sum
}
