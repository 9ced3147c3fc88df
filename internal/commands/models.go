// internal/commands/models.go
package chorus

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mwiater/chorus/internal/chat"
	"github.com/mwiater/chorus/internal/models"
)

// listModelsCmd implements 'models', which lists the hosted catalog and the configured
// self-hosted backends.
var listModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List selectable models",
	Long:  `The 'models' command lists the hosted catalog followed by the self-hosted backends in the configuration file (default: config/config.json).`,
	Run: func(cmd *cobra.Command, args []string) {
		models.ListModels(cmd.OutOrStdout(), *GetConfig())
	},
}

// probeCmd implements 'probe', which sends a short greeting to every enabled self-hosted backend.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that every enabled self-hosted backend answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		ids := make([]string, 0, len(cfg.EnabledBackends()))
		for _, b := range cfg.EnabledBackends() {
			ids = append(ids, b.ID)
		}
		if len(ids) == 0 {
			return models.ErrNoBackends
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return chat.Run(ctx, &cfg, ids, func(ctx context.Context, s *chat.Session) error {
			results, err := models.Probe(ctx, s.Dispatcher, s.Config)
			if err != nil {
				return err
			}
			models.PrintProbe(cmd.OutOrStdout(), results)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(probeCmd)
}
