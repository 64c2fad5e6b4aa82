package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mastercactapus/gatc/toolstate"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted tool state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load tool state: %w", err)
		}
		fmt.Println(renderState(rec))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func renderState(rec toolstate.Record) string {
	ref := fmt.Sprintf("%.3f", rec.ReferenceMZ)
	if rec.ReferenceMZ == toolstate.ReferenceUnset {
		ref += " (unset)"
	}
	tool := fmt.Sprintf("T%d", rec.ActiveTool)
	if rec.ActiveTool < 0 {
		tool = "empty"
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Rows(
			[]string{"active tool", tool},
			[]string{"reference mz", ref},
			[]string{"current mz", fmt.Sprintf("%.3f", rec.CurrentMZ)},
			[]string{"tool length offset", fmt.Sprintf("%.3f", rec.ToolLengthOffset)},
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return toolStyle
			}
			return cellStyle
		}).
		Render()
}
