package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/policy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newOnboardCmd() *cobra.Command {
	var force, interactive bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "First-run setup: config.json, policy.yaml, and home directory layout",
		Long: `Writes a starter config.json and a default-deny policy.yaml to the nxclaw
home directory ($NXCLAW_HOME or ~/.nxclaw) if they don't already exist.
Equivalent to what "nxclaw start" bootstraps automatically on a bare
machine, exposed as its own verb so it can be scripted or re-run with
--force.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if !cfg.NeedsOnboarding && !force {
				fmt.Printf("Already onboarded: %s\n", config.ConfigPath(cfg.HomeDir))
				fmt.Println("Pass --force to overwrite with fresh defaults.")
				return nil
			}

			if interactive {
				reader := bufio.NewReader(os.Stdin)
				if v := prompt(reader, fmt.Sprintf("LLM provider [%s]: ", orDefault(cfg.LLM.Provider, "google"))); v != "" {
					cfg.LLM.Provider = v
				}
				if v := prompt(reader, fmt.Sprintf("Dashboard bind address [%s]: ", cfg.Dashboard.BindAddr)); v != "" {
					cfg.Dashboard.BindAddr = v
				}
			}

			cfg.NeedsOnboarding = false
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			if err := writeDefaultPolicyIfMissing(cfg.PolicyPath); err != nil {
				return fmt.Errorf("write policy: %w", err)
			}

			for _, dir := range []string{"logs", "skills/builtin", "skills/installed", "state", "memory"} {
				if err := os.MkdirAll(cfg.HomeDir+"/"+dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			fmt.Printf("Onboarded. Home: %s\n", cfg.HomeDir)
			fmt.Printf("Config: %s\n", config.ConfigPath(cfg.HomeDir))
			fmt.Printf("Policy: %s (default-deny; edit to grant tool capabilities)\n", cfg.PolicyPath)
			fmt.Println("Next: run `nxclaw auth` to connect a provider, then `nxclaw start`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config with fresh defaults")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Prompt for a provider and bind address instead of using defaults")
	return cmd
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// writeDefaultPolicyIfMissing writes a default-deny policy.yaml. Grounded on
// cmd/goclaw/main.go's policy.yaml bootstrap-if-missing behavior.
func writeDefaultPolicyIfMissing(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	out, err := yaml.Marshal(policy.Default())
	if err != nil {
		return fmt.Errorf("marshal default policy: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
