package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/azbench/internal/performance/config"
	"github.com/wesleyorama2/azbench/internal/workload"
)

func newPlanCmd(v *viper.Viper) *cobra.Command {
	var format, outputFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the schedule a run would execute",
		Long: `Build the run configuration for the current parameters and print it
without sending any requests. The output can be edited and passed back
to "azbench run --config".`,
		Example: `  MODE=BURST BURST_SIZE=100 azbench plan
  azbench plan --mode CONSTANT --invoke-delay 250 --format json -o plan.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := paramsFromConfig(v)
			if err != nil {
				return err
			}

			cfg, err := workload.Build(params)
			if err != nil {
				return err
			}

			f := config.Format(strings.ToLower(format))
			if format == "" && outputFile != "" {
				f = config.FormatForPath(outputFile)
			}

			data, err := config.Marshal(cfg, f)
			if err != nil {
				return err
			}

			if outputFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.WriteFile(outputFile, data, 0o644); err != nil {
				return fmt.Errorf("failed to write plan: %w", err)
			}
			log.Info().Str("file", outputFile).Int("scenarios", len(cfg.Scenarios)).Msg("plan written")
			fmt.Fprintf(cmd.OutOrStdout(), "Plan written to %s (%d scenarios, ~%s)\n",
				outputFile, len(cfg.Scenarios), cfg.TotalDuration())
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: yaml or json (default yaml, or from the output file extension)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the plan to a file instead of stdout")

	return cmd
}
