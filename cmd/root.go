package cmd

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/melih-ucgun/autoconfig/internal/adapters/ui"
	"github.com/melih-ucgun/autoconfig/internal/config"
	"github.com/melih-ucgun/autoconfig/internal/core"
)

var rootCmd = &cobra.Command{
	Use:   "autoconfig",
	Short: "Render configuration templates inside Java packages.",
	Long: `autoconfig scans jar, war, ear and rar archives and exploded directories
for auto-config.xml descriptors, renders the templates they declare against a
property set and writes the results back into the package.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

var (
	verboseCount int
	configPath   string
	logPath      string

	logFile *os.File
	logger  core.Logger = core.NopLogger{}
	out     core.UI     = ui.NewPtermUI()
	cfg                 = config.Default()
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep stdout for command output.
	pterm.SetDefaultOutput(os.Stderr)
	pterm.Success.Writer = os.Stderr
	pterm.Info.Writer = os.Stderr
	pterm.Error.Writer = os.Stderr
	pterm.Warning.Writer = os.Stderr
	pterm.Debug.Writer = os.Stderr
	pterm.DefaultHeader.Writer = os.Stderr

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $AUTOCONFIG_HOME/autoconfig.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "Increase verbosity level (-v, -vv)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "", "also write structured logs to this file")
}

func setup(cmd *cobra.Command, args []string) error {
	level := core.LevelFromVerbosity(verboseCount)
	if level <= core.LevelDebug {
		pterm.EnableDebugMessages()
	}
	l := core.NewDefaultLogger(os.Stderr, level)
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		l = l.WithStructuredSink(f)
	}
	logger = l

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}
