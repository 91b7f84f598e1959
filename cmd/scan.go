package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/engine"
	"github.com/melih-ucgun/autoconfig/internal/entry"
	"github.com/melih-ucgun/autoconfig/internal/remote"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]...",
	Short: "Show the packages, descriptors and rules found in local packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := engine.NewRunner(engine.Options{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}

		var items []core.TreeItem
		for _, path := range args {
			if remote.IsRemote(path) {
				return fmt.Errorf("scan works on local packages only: %s", path)
			}
			e, err := runner.Open(path)
			if err != nil {
				return err
			}
			if err := e.Scan(cmd.Context()); err != nil {
				return err
			}
			items = appendTree(items, e, e.Resource().File, 0)
		}
		return out.Tree(items)
	},
}

func appendTree(items []core.TreeItem, e entry.Entry, name string, level int) []core.TreeItem {
	items = append(items, core.TreeItem{Level: level, Text: fmt.Sprintf("%s (%s)", name, e.Kind())})
	gen := e.Generator()
	if gen != nil {
		for _, d := range gen.Descriptors() {
			items = append(items, core.TreeItem{Level: level + 1, Text: d.Name})
			for _, r := range d.Rules {
				items = append(items, core.TreeItem{Level: level + 2, Text: r.String()})
			}
		}
		for _, diag := range gen.Diagnostics() {
			items = append(items, core.TreeItem{Level: level + 1, Text: fmt.Sprintf("! %s: %s", diag.Descriptor, diag.Message)})
		}
	}
	for _, child := range e.Children() {
		items = appendTree(items, child, child.Resource().Name, level+1)
	}
	return items
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
