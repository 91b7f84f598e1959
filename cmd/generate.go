package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/engine"
)

var generateFlags struct {
	output          string
	propertyFiles   []string
	defines         []string
	charset         string
	duplicatePolicy string
	diff            bool
	backup          bool
	backupDir       string
	replaceAttempts int
	replacePause    time.Duration
}

var generateCmd = &cobra.Command{
	Use:   "generate [path|url]...",
	Short: "Render every template of the given packages",
	Long: `Scans each package, renders its templates and replaces the package with
the result. Packages may be local paths or sftp:// and s3:// URLs; remote
packages are downloaded, generated and uploaded back. Backups are only kept
for local packages.

With --output a directory package is copied to the output path first, so
the result has the same shape as the input.

The exit code is 1 unless every template rendered without unresolved
references.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyGenerateFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		runner, err := engine.NewRunner(engine.Options{
			Config:        cfg,
			Output:        generateFlags.output,
			PropertyFiles: generateFlags.propertyFiles,
			Overrides:     generateFlags.defines,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		results, err := runner.Run(ctx, args)
		if errors.Is(err, context.Canceled) {
			pterm.Error.Println("Interrupted.")
			os.Exit(130)
		}
		if err != nil {
			return err
		}

		if code := report(results); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func applyGenerateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("charset") {
		cfg.Charset = generateFlags.charset
	}
	if f.Changed("duplicate-policy") {
		cfg.DuplicatePolicy = generateFlags.duplicatePolicy
	}
	if f.Changed("diff") {
		cfg.Diff = generateFlags.diff
	}
	if f.Changed("backup") {
		cfg.Backup.Enabled = generateFlags.backup
	}
	if f.Changed("backup-dir") {
		cfg.Backup.Dir = generateFlags.backupDir
	}
	if f.Changed("replace-attempts") {
		cfg.Replace.Attempts = generateFlags.replaceAttempts
	}
	if f.Changed("replace-pause") {
		cfg.Replace.Pause = generateFlags.replacePause
	}
}

// report prints the result table and returns the process exit code.
func report(results []core.Result) int {
	rows := [][]string{{"Package", "Status", "Message"}}
	code := 0
	for _, r := range results {
		status := pterm.Green("ok")
		msg := r.Message
		switch {
		case r.Failed:
			status = pterm.Red("failed")
			if r.Error != nil {
				msg = fmt.Sprintf("%s: %v", r.Message, r.Error)
			}
			code = 1
		case !r.Succeeded:
			status = pterm.Yellow("incomplete")
			code = 1
		}
		rows = append(rows, []string{r.Name, status, msg})
	}
	if err := out.Table(rows); err != nil {
		logger.Warn("could not render results", "error", err)
	}
	return code
}

func init() {
	rootCmd.AddCommand(generateCmd)
	f := generateCmd.Flags()
	f.StringVarP(&generateFlags.output, "output", "o", "", "write the result here instead of replacing the package")
	f.StringSliceVarP(&generateFlags.propertyFiles, "properties", "P", nil, "property file (.properties, .env, .yaml); repeatable")
	f.StringArrayVarP(&generateFlags.defines, "define", "D", nil, "set a property, key=value; repeatable")
	f.StringVar(&generateFlags.charset, "charset", "", "charset for templates that declare none")
	f.StringVar(&generateFlags.duplicatePolicy, "duplicate-policy", "", "keep-first or fail when descriptors share a destination")
	f.BoolVar(&generateFlags.diff, "diff", false, "append a diff against the previous content to the descriptor log")
	f.BoolVar(&generateFlags.backup, "backup", false, "keep a copy of each archive before replacing it")
	f.StringVar(&generateFlags.backupDir, "backup-dir", "", "directory for backups (default $AUTOCONFIG_HOME/backups)")
	f.IntVar(&generateFlags.replaceAttempts, "replace-attempts", 0, "rename attempts when replacing an archive")
	f.DurationVar(&generateFlags.replacePause, "replace-pause", 0, "initial pause between rename attempts")
}
