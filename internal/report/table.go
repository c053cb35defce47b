package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

func WriteTable(r *Report, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "\n=== Sparse Search Benchmark ===\n")
	fmt.Fprintf(tw, "Run %s, workload %s, total %s\n", r.Meta.RunID, r.Meta.Workload, fmtDuration(r.Meta.Duration))

	writeTaskTable(tw, r)
	writeLoadTable(tw, r)
	writeLatencyTable(tw, r)

	tw.Flush()
}

func writeTaskTable(tw *tabwriter.Writer, r *Report) {
	fmt.Fprintf(tw, "\nTasks\n\n")

	header := []string{"Task", "Type", "Status", "Duration"}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fmt.Fprintln(tw, separator(len(header)))

	for _, t := range r.Tasks {
		fmt.Fprintln(tw, strings.Join([]string{t.Name, t.Type, t.Status, fmtDuration(t.Duration)}, "\t"))
	}
}

func writeLoadTable(tw *tabwriter.Writer, r *Report) {
	rows := loadTasks(r)
	if len(rows) == 0 {
		return
	}

	fmt.Fprintf(tw, "\nLoad Results\n\n")

	header := []string{"Task", "Items", "Success", "Fail", "Requests", "Retries", "Throughput", "Recall"}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fmt.Fprintln(tw, separator(len(header)))

	for _, t := range rows {
		s := t.Summary
		recallCell := "-"
		if t.Recall != nil {
			recallCell = fmt.Sprintf("%.4f (%d scored, %d excluded)", t.Recall.Recall, t.Recall.Evaluated, t.Recall.Excluded)
		}
		row := []string{
			t.Name,
			fmt.Sprintf("%d", s.Produced),
			fmt.Sprintf("%d", s.Success),
			fmt.Sprintf("%d", s.Fail),
			fmt.Sprintf("%d", s.Requests),
			fmt.Sprintf("%d", s.Retries),
			fmt.Sprintf("%.1f/s", s.Throughput),
			recallCell,
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

func writeLatencyTable(tw *tabwriter.Writer, r *Report) {
	rows := loadTasks(r)
	if len(rows) == 0 {
		return
	}

	fmt.Fprintf(tw, "\nRequest Latency\n\n")

	header := []string{"Task", "Min", "p50", "p95", "p99", "Max", "Mean", "Stddev", "Samples"}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fmt.Fprintln(tw, separator(len(header)))

	for _, t := range rows {
		s := t.Summary.Latency
		row := []string{
			t.Name,
			fmtDuration(s.Min),
			fmtDuration(s.P50()),
			fmtDuration(s.P95()),
			fmtDuration(s.P99()),
			fmtDuration(s.Max),
			fmtDuration(s.Mean),
			fmtDuration(s.Stddev),
			fmt.Sprintf("%d", s.SampleCount),
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

func loadTasks(r *Report) []TaskEntry {
	var rows []TaskEntry
	for _, t := range r.Tasks {
		if t.Summary != nil {
			rows = append(rows, t)
		}
	}
	return rows
}

func separator(cols int) string {
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	return strings.Join(sep, "\t")
}

func fmtDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
