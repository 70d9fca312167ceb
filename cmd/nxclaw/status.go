package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/doctor"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Run environment diagnostics (config, credentials, home dir, tools, network)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			d := doctor.Run(context.Background(), &cfg, version)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}

			fmt.Printf("nxclaw %s (%s/%s, %s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
			failed := 0
			for _, r := range d.Results {
				mark := statusMark(r.Status)
				fmt.Printf("%s %-16s %s\n", mark, r.Name, r.Message)
				if r.Detail != "" {
					fmt.Printf("   %s\n", r.Detail)
				}
				if r.Status == "FAIL" {
					failed++
				}
			}
			if failed > 0 {
				fmt.Printf("\n%d check(s) failed.\n", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the diagnosis as JSON")
	return cmd
}

func statusMark(status string) string {
	switch status {
	case "PASS":
		return "[ok]  "
	case "WARN":
		return "[warn]"
	case "FAIL":
		return "[fail]"
	default:
		return "[skip]"
	}
}
