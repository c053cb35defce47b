package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chishui/opensearch-sparse-benchmark/internal/osearch"
	"github.com/chishui/opensearch-sparse-benchmark/internal/report"
	"github.com/chishui/opensearch-sparse-benchmark/internal/runner"
	"github.com/chishui/opensearch-sparse-benchmark/internal/workload"
)

var runOpts struct {
	workloadDir string
	params      []string
	skip        []string
	envPath     string
	output      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload against the cluster",
	Example: `  sparsebench run -w workloads/msmarco
  sparsebench run -w workloads/msmarco -p index=my_index -p bulk_size=200
  sparsebench run -w workloads/msmarco -s create-index -s ingest`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkload(cmd)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.workloadDir, "workload", "w", "", "workload directory containing config.yml (required)")
	runCmd.Flags().StringArrayVarP(&runOpts.params, "param", "p", nil, "override a workload parameter, key=value (repeatable)")
	runCmd.Flags().StringArrayVarP(&runOpts.skip, "skip", "s", nil, "skip the named task (repeatable)")
	runCmd.Flags().StringVar(&runOpts.envPath, "env", "", "path to a .env file with cluster credentials")
	runCmd.Flags().StringVarP(&runOpts.output, "output", "o", "", "write a JSON report to this path")
	_ = runCmd.MarkFlagRequired("workload")
}

func runWorkload(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params, err := parseParams(runOpts.params)
	if err != nil {
		return err
	}

	wl, err := workload.Load(runOpts.workloadDir, params)
	if err != nil {
		return err
	}

	osearch.LoadDotEnv(runOpts.envPath)
	client, err := osearch.New(osearch.FromEnv())
	if err != nil {
		return err
	}

	skip := make(map[string]bool, len(runOpts.skip))
	for _, name := range runOpts.skip {
		skip[name] = true
	}

	started := time.Now()
	results, runErr := runner.New(client).Run(ctx, wl, skip)

	rpt := report.New(runOpts.workloadDir, started, results)
	report.WriteTable(rpt, os.Stdout)

	if runOpts.output != "" {
		if err := report.WriteJSON(rpt, runOpts.output); err != nil {
			return err
		}
	}

	return runErr
}

func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
