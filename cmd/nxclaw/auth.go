package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nx/nxclaw/internal/config"
	"github.com/spf13/cobra"
)

// providerEnvVars mirrors internal/doctor's fallback table: the standard
// API key environment variable for each built-in provider.
var providerEnvVars = map[string]string{
	"google":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func newAuthCmd() *cobra.Command {
	var provider, model, apiKeyEnv string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Connect an LLM provider",
		Long: `Records which LLM provider and model the runtime should use, and which
environment variable holds its API key. This command does not store the key
itself — export it in your shell (or a .env file) before running "nxclaw
start".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider = strings.ToLower(strings.TrimSpace(provider))
			if provider == "" {
				provider = cfg.LLM.Provider
			}
			if provider == "" {
				provider = "google"
			}
			if apiKeyEnv == "" {
				apiKeyEnv = providerEnvVars[provider]
			}
			if apiKeyEnv == "" {
				return fmt.Errorf("no standard env var for provider %q; pass --api-key-env explicitly", provider)
			}

			cfg.LLM.Provider = provider
			if model != "" {
				cfg.LLM.Model = model
			}
			cfg.LLM.APIKeyEnv = apiKeyEnv

			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("Provider set to %q (model %q), reading key from $%s\n", provider, cfg.LLM.Model, apiKeyEnv)
			if os.Getenv(apiKeyEnv) == "" {
				fmt.Printf("Warning: $%s is not set in this shell. Run `nxclaw status` after exporting it.\n", apiKeyEnv)
			} else {
				fmt.Println("Key detected in environment.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider: google, openai, or anthropic")
	cmd.Flags().StringVar(&model, "model", "", "Model name for the selected provider")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "", "Environment variable holding the API key (default: provider's standard var)")
	return cmd
}
