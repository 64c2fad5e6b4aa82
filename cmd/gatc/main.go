package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mastercactapus/gatc/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatc",
	Short: "Automatic tool changer host for Grbl machines",
	Long: `gatc drives the tool changer, tool length calibration and probing
routines of a CNC machine running Grbl.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file (defaults are used when empty).")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes text logs to stderr with "error" keys shortened to "err".
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", name, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	})), nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
