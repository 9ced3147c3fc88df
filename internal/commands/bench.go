// internal/commands/bench.go
package chorus

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mwiater/chorus/internal/benchmark"
	"github.com/mwiater/chorus/internal/chat"
	"github.com/mwiater/chorus/internal/providerfactory"
)

var benchOpts struct {
	models     []string
	iterations int
	prompt     string
	outputDir  string
}

// benchCmd implements 'bench', which repeats one prompt against the selected models and
// reports per-model latency and token statistics.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the selected models with repeated rounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return chat.Run(ctx, GetConfig(), benchOpts.models, func(ctx context.Context, s *chat.Session) error {
			c := s.Config
			c.Metrics = false
			adapter, err := providerfactory.NewAdapter(&c, nil)
			if err != nil {
				return err
			}
			res, err := benchmark.Run(ctx, adapter, s.Resolver(), s.Models, benchmark.Options{
				Iterations: benchOpts.iterations,
				Prompt:     benchOpts.prompt,
				OutputDir:  benchOpts.outputDir,
			})
			if err != nil {
				return err
			}
			benchmark.PrintReport(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

func init() {
	benchCmd.Flags().StringSliceVarP(&benchOpts.models, "models", "m", nil, "model ids to benchmark (default: defaultModels)")
	benchCmd.Flags().IntVarP(&benchOpts.iterations, "iterations", "n", 5, "number of rounds to run")
	benchCmd.Flags().StringVar(&benchOpts.prompt, "prompt", benchmark.DefaultPrompt, "prompt sent every round")
	benchCmd.Flags().StringVar(&benchOpts.outputDir, "output", "", "directory for a JSON copy of the results")
	rootCmd.AddCommand(benchCmd)
}
