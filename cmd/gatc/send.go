package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [LINE...]",
	Short: "Send G-code to a running server",
	Long: `Send G-code to a running server. Lines are taken from the arguments,
or from stdin when none are given.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("addr", "http://localhost:9091", "Base URL of the server.")
	sendCmd.Flags().String("name", "cli", "Job name reported by the player.")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	name, _ := cmd.Flags().GetString("name")

	// lines are parsed and normalized before upload
	var src gcode.Reader = gcode.NewParser(os.Stdin)
	if len(args) > 0 {
		blocks, err := gcode.Parse(strings.Join(args, "\n"))
		if err != nil {
			return err
		}
		src = &gcode.BlocksReader{Blocks: blocks}
	}
	body := gcode.NewBuffer(src)

	u, err := url.Parse(strings.TrimSuffix(addr, "/") + "/api/gcode")
	if err != nil {
		return fmt.Errorf("server address: %w", err)
	}
	u.RawQuery = url.Values{"name": {name}}.Encode()

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
