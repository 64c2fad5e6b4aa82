package main

import (
	"fmt"
	"strings"

	"github.com/joushou/gocnc/gcode"
	"github.com/joushou/gocnc/vm"
	"github.com/mastercactapus/gatc/atc"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the commands of a tool change without a machine",
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().Int("from", -1, "Tool in the spindle (-1 for empty).")
	previewCmd.Flags().Int("to", 1, "Tool to change to.")
	previewCmd.Flags().Bool("simulate", false, "Run the motion through a G-code interpreter and dump the resulting moves.")
	rootCmd.AddCommand(previewCmd)
}

// simRewrite maps machine-only words onto plain moves the interpreter knows.
var simRewrite = strings.NewReplacer(
	"G53", "",
	"G38.2", "G1",
	"G38.3", "G1",
	"G38.4", "G1",
	"G38.5", "G1",
)

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")
	simulate, _ := cmd.Flags().GetBool("simulate")

	cmds := atc.Plan(toolrack.New(cfg), from, to)

	var motion strings.Builder
	for _, c := range cmds {
		line := c.String()
		fmt.Println(line)
		if c.Op == script.OpMotion || c.Op == script.OpProbe {
			motion.WriteString(simRewrite.Replace(line))
			motion.WriteByte('\n')
		}
	}
	if !simulate {
		return nil
	}

	doc, err := gcode.Parse(strings.TrimSpace(motion.String()))
	if err != nil {
		return fmt.Errorf("parse motion: %w", err)
	}

	var m vm.Machine
	m.Init()
	m.Process(doc)
	fmt.Println()
	m.Dump()
	return nil
}
