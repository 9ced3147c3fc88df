// internal/commands/root.go
package chorus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// consoleLogAnnotation marks commands whose log output also goes to stdout.
const consoleLogAnnotation = "chorus/console-log"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "chorus",
	Short:        "chorus sends one prompt to several LLM backends at once and compares the answers",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := ensureConfigLoaded()
		if err != nil {
			return err
		}

		for _, name := range []string{"debug", "metrics", "strictContent"} {
			if !cmd.Flags().Changed(name) {
				val := viper.GetBool(name)
				_ = cmd.Flags().Set(name, strconv.FormatBool(val))
			}
		}
		if !cmd.Flags().Changed("logFile") {
			_ = cmd.Flags().Set("logFile", viper.GetString("logFile"))
		}

		cfg := appconfig.Default()
		if loaded {
			if err := appconfig.ValidateFile(viper.ConfigFileUsed()); err != nil {
				return fmt.Errorf("config file %q: %w", viper.ConfigFileUsed(), err)
			}
			cfg = appconfig.Config{}
		}
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		if loaded {
			cfg.ConfigPath = viper.ConfigFileUsed()
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		currentConfig = &cfg

		initLog := logging.InitFileOnly
		if _, ok := cmd.Annotations[consoleLogAnnotation]; ok {
			initLog = logging.Init
		}
		if err := initLog(currentConfig.LogFilePath()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetDebug(currentConfig.Debug)
		if !loaded {
			logging.LogEvent("no config file at %q, using defaults", cfgFile)
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		_ = logging.Close()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("metrics", false, "collect per-model latency and token metrics")
	rootCmd.PersistentFlags().Bool("strictContent", false, "treat replies without content as protocol errors")
	rootCmd.PersistentFlags().String("logFile", "", "path to the log file")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("metrics", rootCmd.PersistentFlags().Lookup("metrics"))
	_ = viper.BindPFlag("strictContent", rootCmd.PersistentFlags().Lookup("strictContent"))
	_ = viper.BindPFlag("logFile", rootCmd.PersistentFlags().Lookup("logFile"))

	_ = viper.BindEnv("openRouterApiKey", "CHORUS_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = viper.BindEnv("openRouterUrl", "CHORUS_OPENROUTER_URL")
	_ = viper.BindEnv("listenAddr", "CHORUS_LISTEN_ADDR")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// ensureConfigLoaded reads the config file. A missing file is not an error; the caller
// falls back to defaults.
func ensureConfigLoaded() (bool, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load config: %w", err)
	}
	return true, nil
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// DebugEnabled returns true if debug mode is enabled.
func DebugEnabled() bool { return viper.GetBool("debug") }

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
