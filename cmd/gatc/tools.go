package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mastercactapus/gatc/atc"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool slot table for the configured machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Println(renderTools(toolrack.New(cfg)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func coordRow(name string, x, y, z float64) []string {
	return []string{name, fmt.Sprintf("%.3f", x), fmt.Sprintf("%.3f", y), fmt.Sprintf("%.3f", z)}
}

func renderTools(m *toolrack.Model) string {
	rows := [][]string{coordRow(fmt.Sprintf("T%d (probe)", atc.ToolProbe), m.Probe.X, m.Probe.Y, m.Probe.Z)}
	for _, s := range m.Tools {
		if !s.Valid || s.Index == atc.ToolProbe {
			continue
		}
		rows = append(rows, coordRow(fmt.Sprintf("T%d", s.Index), s.X, s.Y, s.Z))
	}
	a2 := m.Anchor2()
	rows = append(rows,
		coordRow("anchor 1", m.Anchor1.X, m.Anchor1.Y, 0),
		coordRow("anchor 2", a2.X, a2.Y, 0),
		coordRow("clearance", m.Clearance.X, m.Clearance.Y, m.Clearance.Z),
	)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Position", "X", "Y", "Z").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return toolStyle
			}
			return cellStyle
		})

	out := t.Render()
	if m.Overridden {
		out += "\n" + dimStyle.Render("slots from atc.tool_slots")
	}
	return out
}
