package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/config"
	"github.com/wesleyorama2/storeload/internal/logging"
)

var version = "0.1.0"

// ErrRunFailed is returned when a run finished but did not pass. The
// summary has already been printed, so Execute does not print it again.
var ErrRunFailed = errors.New("run failed")

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "storeload",
	Short:   "Load test a storefront API with virtual users",
	Version: version,
	Long: `storeload drives a storefront API with concurrent virtual users that
browse the catalog, open product pages and fetch their profile. Each of the
smoke, ramp, peak and soak profiles shapes the load differently and is
judged against its own latency and failure thresholds.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is provided, print help
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, ErrRunFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadConfig reads the env files, the process environment and the
// optional --profiles overlay.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	overlay, _ := cmd.Flags().GetString("profiles")

	cfg, err := config.Load(envFiles)
	if err != nil {
		return nil, err
	}

	if overlay != "" {
		cfg, err = cfg.LoadOverlay(overlay)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger builds the logger for cfg. --log-level and --log-format win
// over the environment. Logs always go to stderr so reports on stdout stay
// machine-readable.
func newLogger(cmd *cobra.Command, cfg *config.RunConfig) *logrus.Logger {
	level := cfg.Log.Level
	if cmd.Flags().Changed("log-level") {
		level, _ = cmd.Flags().GetString("log-level")
	}
	format := cfg.Log.Format
	if cmd.Flags().Changed("log-format") {
		format, _ = cmd.Flags().GetString("log-format")
	}
	return logging.New(level, format, cmd.ErrOrStderr())
}

func init() {
	RootCmd.PersistentFlags().StringSlice("env-file", config.DefaultEnvFiles, "Env files loaded before the environment is read (missing files are skipped)")
	RootCmd.PersistentFlags().String("profiles", "", "YAML or JSON file overriding profile stages, pacing and thresholds")
	RootCmd.PersistentFlags().String("log-level", "info", "Log level: silent, error, warn, info, debug")
	RootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
	RootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	// Add subcommands to root command
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(profilesCmd)
	RootCmd.AddCommand(historyCmd)
}
