// internal/commands/show_config.go
package chorus

import (
	"fmt"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/chorus/internal/appconfig"
)

var showVerbose bool

// showCmd groups the read-only inspection commands.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show information about the current setup",
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON configs are loaded properly and overridden by flags and environment variables accordingly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := GetConfig()
		appconfig.ShowConfig(cmd.OutOrStdout(), viper.ConfigFileUsed(), cfg)
		if showVerbose && cfg != nil {
			redacted := *cfg
			redacted.OpenRouterAPIKey = appconfig.Redact(redacted.OpenRouterAPIKey)
			redacted.Backends = make([]appconfig.Backend, len(cfg.Backends))
			for i, b := range cfg.Backends {
				b.APIKey = appconfig.Redact(b.APIKey)
				redacted.Backends[i] = b
			}
			fmt.Fprintln(cmd.OutOrStdout())
			pp.Fprintln(cmd.OutOrStdout(), redacted)
		}
	},
}

// configCmd groups configuration helpers. They read the file named on the command line, so
// the root config loading is skipped.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

// configValidateCmd checks a configuration file against the schema and semantic rules.
var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := appconfig.Load(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d backend(s), %d enabled, %d default model(s)\n",
			path, len(cfg.Backends), len(cfg.EnabledBackends()), len(cfg.DefaultModels))
		return nil
	},
}

func init() {
	showConfigCmd.Flags().BoolVarP(&showVerbose, "verbose", "v", false, "also dump the full configuration structure")
	showCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(showCmd)

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
