// Command benchfn serves a local stand-in for the benchmark function at
// /api/bench.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/azbench/internal/benchfn"
)

func newCommand() *cobra.Command {
	var (
		addr     string
		latency  time.Duration
		cold     time.Duration
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "benchfn",
		Short:         "Serve a local stand-in for the benchmark function",
		Example:       "  benchfn --addr :7071 --latency 20ms --cold-start 2s\n  BENCHMARK_URL=http://localhost:7071/api/bench MODE=BURST BURST_SIZE=50 azbench run",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli})

			h := benchfn.NewHandler(benchfn.Options{Latency: latency, ColdStart: cold})
			server := &http.Server{
				Addr:              addr,
				Handler:           h.Routes(),
				ReadHeaderTimeout: 2 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", addr).Dur("latency", latency).Dur("coldStart", cold).Msg("serving /api/bench")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info().Int64("invocations", h.Count()).Msg("stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":7071", "listen address")
	cmd.Flags().DurationVar(&latency, "latency", 0, "latency added to every invocation")
	cmd.Flags().DurationVar(&cold, "cold-start", 0, "extra latency of the first invocation")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("benchfn failed")
		os.Exit(1)
	}
}
