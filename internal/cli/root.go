// Package cli implements the azbench command line.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/azbench/internal/history"
	"github.com/wesleyorama2/azbench/internal/workload"
)

var version = "0.1.0"

// Configuration keys. Each is bound to a flag of the same name and to the
// environment variable listed in envBindings.
const (
	keyMode        = "mode"
	keyBurstSize   = "burst-size"
	keyInvokeDelay = "invoke-delay"
	keyURL         = "url"
	keyLogLevel    = "log-level"
	keyHistoryDB   = "history-db"
)

var envBindings = map[string]string{
	keyMode:        "MODE",
	keyBurstSize:   "BURST_SIZE",
	keyInvokeDelay: "INVOKE_DELAY",
	keyURL:         "BENCHMARK_URL",
	keyLogLevel:    "AZBENCH_LOG_LEVEL",
	keyHistoryDB:   "AZBENCH_HISTORY_DB",
}

// NewRootCmd builds the azbench command tree. Every call returns a fresh
// tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:     "azbench",
		Short:   "Benchmark Azure serverless functions",
		Version: version,
		Long: `azbench drives an HTTP-triggered function with a fixed invocation
schedule and reports latency and error statistics.

Three schedules are supported:
  BURST            bursts of BURST_SIZE concurrent requests, 10s apart
  CONSTANT         one single-request scenario every INVOKE_DELAY ms
  CONSTANT_ONE_VU  one request every INVOKE_DELAY ms through a single VU

Parameters are read from the environment (MODE, BURST_SIZE, INVOKE_DELAY,
BENCHMARK_URL) and can be overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(v.GetString(keyLogLevel))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyMode, "", "invocation mode: BURST, CONSTANT or CONSTANT_ONE_VU (env MODE)")
	flags.String(keyBurstSize, "", "concurrent requests per burst (env BURST_SIZE)")
	flags.String(keyInvokeDelay, "", "delay between invocations in milliseconds (env INVOKE_DELAY)")
	flags.String(keyURL, "", "benchmark function URL (env BENCHMARK_URL)")
	flags.String(keyLogLevel, "warn", "log level: debug, info, warn or error (env AZBENCH_LOG_LEVEL)")
	flags.String(keyHistoryDB, "", "run history database (env AZBENCH_HISTORY_DB, default ~/.azbench/history.db)")

	for key, env := range envBindings {
		// errors only occur for empty keys or nil flags
		_ = v.BindEnv(key, env)
		_ = v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(newPlanCmd(v))
	rootCmd.AddCommand(newRunCmd(v))
	rootCmd.AddCommand(newHistoryCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the command line and prints any error to stderr.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli})
	return nil
}

// paramsFromConfig reads the invocation parameters from flags and the
// environment.
func paramsFromConfig(v *viper.Viper) (workload.Params, error) {
	return workload.ParseParams(
		v.GetString(keyMode),
		v.GetString(keyBurstSize),
		v.GetString(keyInvokeDelay),
		v.GetString(keyURL),
	)
}

func historyPath(v *viper.Viper) (string, error) {
	if p := strings.TrimSpace(v.GetString(keyHistoryDB)); p != "" {
		return p, nil
	}
	return history.DefaultPath()
}

func openHistory(v *viper.Viper) (*history.Store, error) {
	path, err := historyPath(v)
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}
