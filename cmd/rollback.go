package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/melih-ucgun/autoconfig/internal/backup"
)

var rollbackList bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback [run-id]",
	Short: "Restore the archives backed up by a generate run",
	Long: `Restores every archive a generate --backup run replaced. Without a run id
the most recent run is restored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := backup.NewManager(cfg.Backup.Dir)
		if err != nil {
			return err
		}

		if rollbackList {
			runs, err := mgr.Runs()
			if err != nil {
				return err
			}
			rows := [][]string{{"Run", "Started", "Archives"}}
			for _, r := range runs {
				rows = append(rows, []string{r.ID, r.Started.Format("2006-01-02 15:04:05"), fmt.Sprint(len(r.Items))})
			}
			return out.Table(rows)
		}

		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		run, err := mgr.Rollback(id)
		if err != nil {
			return err
		}
		for _, item := range run.Items {
			logger.Debug("restored", "archive", item.Original, "from", item.Backup)
		}
		pterm.Success.Printf("Restored %d archives from run %s\n", len(run.Items), run.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().BoolVarP(&rollbackList, "list", "l", false, "list recorded runs instead of restoring")
}
