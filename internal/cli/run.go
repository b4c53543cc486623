package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/azbench/internal/history"
	"github.com/wesleyorama2/azbench/internal/performance/config"
	"github.com/wesleyorama2/azbench/internal/performance/engine"
	"github.com/wesleyorama2/azbench/internal/performance/output"
	"github.com/wesleyorama2/azbench/internal/performance/report"
	"github.com/wesleyorama2/azbench/internal/workload"
)

// ErrRunFailed is returned when a run finishes with failed thresholds.
var ErrRunFailed = errors.New("run failed")

// progressInterval is how often the live display is refreshed.
var progressInterval = time.Second

type runOptions struct {
	configFile string
	thresholds []string
	outputFile string
	jsonOutput bool
	quiet      bool
	noColor    bool
	noHistory  bool
	runID      string
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark schedule against the function",
		Long: `Build the schedule for the current parameters, dispatch every
invocation to the benchmark URL and print a summary.

Each request is a GET with the invokeMode, invokeInput and id query
parameters added. A schedule written by "azbench plan" can be run with
--config instead.`,
		Example: `  MODE=BURST BURST_SIZE=50 BENCHMARK_URL=https://fn.azurewebsites.net/api/bench azbench run
  azbench run --mode CONSTANT_ONE_VU --invoke-delay 100 --url https://fn.azurewebsites.net/api/bench
  azbench run --config plan.yaml --threshold "http_req_failed:rate<0.01" -o result.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, v, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "run a configuration file instead of building the schedule")
	flags.StringArrayVarP(&opts.thresholds, "threshold", "t", nil, `pass/fail threshold, e.g. "http_req_duration:p95<500ms" (repeatable)`)
	flags.StringVarP(&opts.outputFile, "output", "o", "", "write the result to a file: an HTML report for .html, JSON otherwise")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the JSON result to stdout instead of the summary")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only print PASSED or FAILED")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&opts.noHistory, "no-history", false, "do not record the run in the history database")
	flags.StringVar(&opts.runID, "run-id", "", "run ID sent with every request (default a random UUID)")

	return cmd
}

// runPlan is what a run executes and how it is recorded.
type runPlan struct {
	config *config.TestConfig
	params workload.Params
	url    string
}

func loadRunPlan(v *viper.Viper, configFile string) (*runPlan, error) {
	if configFile != "" {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}

		if raw := v.GetString(keyURL); raw != "" {
			base, err := workload.NormalizeURL(raw)
			if err != nil {
				return nil, err
			}
			cfg.Settings.BaseURL = base
		}
		if cfg.Settings.BaseURL == "" {
			return nil, fmt.Errorf("%w: set settings.baseUrl, BENCHMARK_URL or --url", workload.ErrMissingURL)
		}
		params, ok := workload.ParamsFromConfig(cfg)
		if !ok {
			log.Debug().Str("config", configFile).Msg("no invocation parameters in config, mode not recorded")
		}
		return &runPlan{config: cfg, params: params, url: cfg.Settings.BaseURL}, nil
	}

	params, err := paramsFromConfig(v)
	if err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, fmt.Errorf("%w: set BENCHMARK_URL or --url", workload.ErrMissingURL)
	}

	cfg, err := workload.Build(params)
	if err != nil {
		return nil, err
	}
	return &runPlan{config: cfg, params: params, url: cfg.Settings.BaseURL}, nil
}

func runBenchmark(cmd *cobra.Command, v *viper.Viper, opts *runOptions) error {
	plan, err := loadRunPlan(v, opts.configFile)
	if err != nil {
		return err
	}
	cfg := plan.config

	if len(opts.thresholds) > 0 && cfg.Thresholds == nil {
		cfg.Thresholds = &config.ThresholdsConfig{}
	}
	for _, t := range opts.thresholds {
		if err := cfg.Thresholds.AddThreshold(t); err != nil {
			return err
		}
	}

	var engineOpts []engine.Option
	if opts.runID != "" {
		engineOpts = append(engineOpts, engine.WithRunID(opts.runID))
	}
	eng, err := engine.NewEngine(cfg, engineOpts...)
	if err != nil {
		return err
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		Title:         cfg.Name,
		RunID:         eng.RunID(),
		Mode:          string(plan.params.Mode),
		Scenarios:     len(cfg.Scenarios),
		TotalDuration: cfg.TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         opts.quiet,
		NoColor:       opts.noColor,
	})
	if !opts.jsonOutput {
		console.PrintHeader()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runWithProgress(ctx, eng, console, cfg.MaxVUs(), !opts.jsonOutput)
	if result == nil {
		return runErr
	}

	if opts.jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if opts.outputFile != "" {
		if err := writeResultFile(opts.outputFile, result); err != nil {
			return err
		}
		log.Info().Str("file", opts.outputFile).Msg("result written")
	}

	if !opts.noHistory {
		saveHistory(v, history.NewRecord(result, string(plan.params.Mode), plan.params.Input(), plan.url))
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", result.RunID, runErr)
	}
	if !result.Passed {
		return fmt.Errorf("%w: thresholds not met", ErrRunFailed)
	}
	return nil
}

// writeResultFile writes an HTML report or the JSON result, depending on
// the file extension.
func writeResultFile(path string, result *engine.TestResult) error {
	if strings.EqualFold(filepath.Ext(path), ".html") {
		return report.GenerateHTML(result, path)
	}
	return output.WriteJSONFile(path, result)
}

// runWithProgress runs the engine and refreshes the console until it
// finishes.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.ConsoleOutput, maxVUs int, live bool) (*engine.TestResult, error) {
	var result *engine.TestResult
	var runErr error

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return result, runErr
		case <-ticker.C:
			if !live {
				continue
			}
			snapshot := eng.GetMetrics()
			if snapshot == nil {
				continue
			}
			stats := output.StatsFromProgress(snapshot, eng.GetProgress(), maxVUs)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// saveHistory records a run. A history failure never fails the run.
func saveHistory(v *viper.Viper, rec history.RunRecord) {
	store, err := openHistory(v)
	if err != nil {
		log.Warn().Err(err).Msg("run not recorded in history")
		return
	}
	defer store.Close()

	if err := store.Save(rec); err != nil {
		log.Warn().Err(err).Str("runId", rec.ID).Msg("run not recorded in history")
		return
	}
	log.Debug().Str("runId", rec.ID).Str("db", store.Path()).Msg("run recorded")
}
