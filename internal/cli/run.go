package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/config"
	"github.com/wesleyorama2/storeload/internal/history"
	"github.com/wesleyorama2/storeload/internal/load/runner"
	"github.com/wesleyorama2/storeload/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run <profile>",
	Short: "Run a load profile against the storefront",
	Long: `Run one of the built-in load profiles against the storefront API.

Profiles:
  smoke  constant VUs for a short time, one shared login
  ramp   ramp up, hold, ramp down
  peak   a short, intense spike
  soak   sustained moderate load with a login per VU

Settings come from the environment (and .env files); flags override them.

Examples:
  storeload run smoke
  storeload run smoke --vus 5 --duration 30s
  storeload run ramp --stages "30s:10,1m:10,30s:0"
  storeload run peak --url https://api.example.com --json > peak.json
  storeload run soak --output soak-report.xml`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: profileArgs(),
	RunE:      runProfile,
}

func profileArgs() []string {
	names := make([]string, 0, len(config.ProfileNames()))
	for _, n := range config.ProfileNames() {
		names = append(names, string(n))
	}
	return names
}

// overridesFromFlags collects the command-line overrides for a profile.
func overridesFromFlags(cmd *cobra.Command) (config.Overrides, error) {
	url, _ := cmd.Flags().GetString("url")
	vus, _ := cmd.Flags().GetInt("vus")
	duration, _ := cmd.Flags().GetString("duration")
	stages, _ := cmd.Flags().GetString("stages")
	noAuth, _ := cmd.Flags().GetBool("no-auth")

	o := config.Overrides{BaseURL: url, VUs: vus, NoAuth: noAuth}

	if vus < 0 {
		return o, fmt.Errorf("--vus must be positive, got %d", vus)
	}
	if duration != "" {
		d, err := config.ParseDurationString(duration)
		if err != nil {
			return o, fmt.Errorf("invalid --duration: %w", err)
		}
		o.Duration = d
	}
	if stages != "" {
		s, err := config.ParseStages(stages)
		if err != nil {
			return o, fmt.Errorf("invalid --stages: %w", err)
		}
		o.Stages = s
	}
	return o, nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	name := config.ProfileName(strings.ToLower(strings.TrimSpace(args[0])))

	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}

	reportFormat := output.FormatForPath(outputPath)
	if format != "" {
		reportFormat, err = output.ParseFormat(format)
		if err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg, err = cfg.WithOverrides(name, overrides)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	profile, err := cfg.Profile(string(name))
	if err != nil {
		return err
	}

	consoleOutput := output.NewConsoleOutput(output.ConsoleOutputConfig{
		Title:         fmt.Sprintf("storeload %s", profile.Name),
		ExecutorType:  string(profile.Executor),
		TotalDuration: profile.TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         quiet || jsonOutput,
		NoColors:      noColor,
	})

	r, err := runner.New(cfg, string(name), runner.Options{
		Logger:   logger,
		Progress: consoleOutput.Progress,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := handleInterrupts(ctx, cancel, r, logger)
	defer stopSignals()

	consoleOutput.PrintHeader()
	result, runErr := r.Run(ctx)
	if result == nil {
		return runErr
	}

	if jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		consoleOutput.PrintSummary(result)
	}

	if outputPath != "" {
		if err := writeReportFile(outputPath, reportFormat, result); err != nil {
			logger.WithError(err).Error("Failed to write report")
		} else {
			logger.WithField("path", outputPath).Info("Report written")
		}
	}

	if cfg.HistoryDB != "" && !noHistory {
		if err := saveHistory(cfg.HistoryDB, result); err != nil {
			logger.WithError(err).Warn("Failed to save run to history")
		}
	}

	if runErr != nil && !result.Interrupted {
		return runErr
	}
	if !result.Passed {
		return ErrRunFailed
	}
	return nil
}

// handleInterrupts stops the run gracefully on the first SIGINT or SIGTERM
// and force-cancels it on the second. The returned func releases the
// signal handler.
func handleInterrupts(ctx context.Context, cancel context.CancelFunc, r *runner.Runner, log logrus.FieldLogger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig := <-sigs:
				interrupts++
				if interrupts == 1 {
					log.WithField("signal", sig.String()).Warn("Stopping run; VUs finish their current iteration (interrupt again to abort)")
					go func() {
						if err := r.Stop(ctx); err != nil {
							log.WithError(err).Debug("Stop returned an error")
						}
					}()
					continue
				}
				log.Warn("Aborting run")
				cancel()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeReportFile(path string, format output.OutputFormat, result *runner.Result) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	if err := output.WriteReport(f, format, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveHistory(path string, result *runner.Result) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(result)
}

func init() {
	runCmd.Flags().String("url", "", "Base URL of the API (overrides API_URL)")
	runCmd.Flags().Int("vus", 0, "Number of virtual users for constant-VU profiles")
	runCmd.Flags().String("duration", "", "Run duration for constant-VU profiles (e.g., 30s, 5m, or seconds)")
	runCmd.Flags().String("stages", "", "Stages in format 'duration:target,duration:target,...' (makes the profile ramping)")
	runCmd.Flags().Bool("no-auth", false, "Skip login and the authenticated profile call")
	runCmd.Flags().Bool("json", false, "Print the result as JSON instead of the summary")
	runCmd.Flags().String("output", "", "Write a report file; the format follows the extension (.json, .yaml, .xml for JUnit, .txt)")
	runCmd.Flags().String("format", "", "Report file format (text, json, yaml, junit); overrides the extension")
	runCmd.Flags().BoolP("quiet", "q", false, "Disable live progress and print only PASSED or FAILED")
	runCmd.Flags().Bool("no-history", false, "Do not record this run in HISTORY_DB")
}
