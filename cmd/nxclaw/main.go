// Command nxclaw is the CLI front end for the autonomous agent runtime:
// authentication, onboarding, environment diagnostics, skill management,
// objective tracking, and the `start` verb that boots the orchestrator,
// autonomous loop, dashboard, and configured channels (SPEC_FULL.md §8).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "nxclaw",
		Short: "An autonomous agent runtime: lanes, tasks, memory, and a browser tool",
		Long: `nxclaw runs an always-on agent loop: channel messages and autonomous
objectives are serialized per conversation lane, background commands run
under a bounded task manager, and a shared browser session backs a small
set of tools the agent can call.

Run "nxclaw start" to bring the whole runtime up, or use the individual
subcommands to inspect and manage it out of band.`,
		SilenceUsage: true,
	}

	root.AddCommand(newAuthCmd())
	root.AddCommand(newOnboardCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSkillsCmd())
	root.AddCommand(newObjectiveCmd())
	root.AddCommand(newStartCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nxclaw:", err)
		os.Exit(1)
	}
}

// loadDotEnv populates process environment variables from a .env file in
// the current directory, without overriding anything already set.
// Grounded on cmd/goclaw/main.go's loadDotEnv.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
