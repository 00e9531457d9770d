package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/reporting"
	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

// errScenarioFailed makes the process exit non-zero when a scenario fails.
var errScenarioFailed = errors.New("one or more scenarios failed")

type runOptions struct {
	driver        string
	headless      bool
	concurrency   int
	ambiguity     string
	stepTimeout   time.Duration
	suggest       bool
	metrics       bool
	format        string
	reportFile    string
	exportContext bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run one or more step scenarios, each in its own browser session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if !reporting.Supported(opts.format) {
				return fmt.Errorf("unsupported output format %q (want text, json or junit)", opts.format)
			}
			scenarios, err := scenario.LoadAll(args)
			if err != nil {
				return err
			}

			rt, err := initializeComponents(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer rt.Shutdown(ctx)

			var runnerOpts []scenario.Option
			if opts.exportContext {
				runnerOpts = append(runnerOpts, scenario.WithContextExport(rt.Orchestrator.Store()))
			}
			runner, err := scenario.NewRunner(rt.Orchestrator, rt.Orchestrator.Store(), a.cfg.Browser().Concurrency, logger, runnerOpts...)
			if err != nil {
				return err
			}

			logger.Info("Running scenarios.", zap.Int("count", len(scenarios)), zap.String("driver", a.cfg.Browser().Driver))
			reports, runErr := runner.Run(ctx, scenarios)
			if err := writeReports(cmd, reports, opts.format, opts.reportFile); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			for _, r := range reports {
				if !r.Passed {
					return errScenarioFailed
				}
			}
			return nil
		},
	}

	f := runCmd.Flags()
	f.StringVar(&opts.driver, "driver", "", "browser driver: chromedp or dom")
	f.BoolVar(&opts.headless, "headless", true, "run Chrome headless")
	f.IntVarP(&opts.concurrency, "concurrency", "j", 0, "scenarios run in parallel")
	f.StringVar(&opts.ambiguity, "ambiguity", "", "ambiguity policy: fail or pick_first")
	f.DurationVar(&opts.stepTimeout, "step-timeout", 0, "default per-step timeout")
	f.BoolVar(&opts.suggest, "suggest", false, "ask the language model about steps the patterns cannot parse")
	f.BoolVar(&opts.metrics, "metrics", false, "serve prometheus metrics while running")
	f.StringVarP(&opts.format, "output", "o", reporting.FormatText, "report format: text, json or junit")
	f.StringVar(&opts.reportFile, "report-file", "", "write the report to this file instead of stdout")
	f.BoolVar(&opts.exportContext, "export-context", false, "include each session's final context in the report")
	return runCmd
}

func writeReports(cmd *cobra.Command, reports []scenario.Report, format, path string) error {
	var (
		rep reporting.Reporter
		err error
	)
	if path == "" {
		rep, err = reporting.NewWriter(format, cmd.OutOrStdout())
	} else {
		rep, err = reporting.New(format, path)
	}
	if err != nil {
		return err
	}
	for _, r := range reports {
		if err := rep.Write(r); err != nil {
			rep.Close()
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return rep.Close()
}
