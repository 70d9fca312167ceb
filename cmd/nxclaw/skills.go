package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/skillmgr"
	"github.com/nx/nxclaw/internal/skillrt"
	"github.com/spf13/cobra"
)

// openSkillManager builds a standalone skill manager for CLI use, without
// bringing up the rest of the runtime. Its wazero host and event bus are
// process-local and torn down when the command returns.
func openSkillManager(ctx context.Context, cfg config.Config) (*skillmgr.Manager, func(), error) {
	host, err := skillrt.NewHost(ctx, skillrt.HostConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("init skill runtime: %w", err)
	}
	b := bus.New(bus.Config{})

	skillsDir := filepath.Join(cfg.HomeDir, "skills")
	mgr, err := skillmgr.Open(ctx,
		filepath.Join(skillsDir, "builtin"),
		filepath.Join(skillsDir, "installed"),
		filepath.Join(cfg.HomeDir, "state", "skills.json"),
		skillmgr.Config{
			Enabled:             true,
			MaxCatalogEntries:   cfg.Skills.MaxCatalogEntries,
			MaxInstallFiles:     cfg.Skills.MaxInstallFiles,
			MaxInstallBytes:     cfg.Skills.MaxInstallBytes,
			InstallTimeoutMs:    cfg.Skills.InstallTimeoutMs,
			AutoEnableOnInstall: cfg.Skills.AutoEnableOnInstall,
		}, host, b, nil)
	if err != nil {
		_ = host.Close(ctx)
		return nil, nil, fmt.Errorf("open skill manager: %w", err)
	}

	cleanup := func() {
		_ = host.Close(ctx)
		b.Close()
	}
	return mgr, cleanup, nil
}

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List, install, enable, and invoke skills",
	}
	cmd.AddCommand(newSkillsListCmd())
	cmd.AddCommand(newSkillsInstallCmd())
	cmd.AddCommand(newSkillsRemoveCmd())
	cmd.AddCommand(newSkillsEnableCmd(true))
	cmd.AddCommand(newSkillsEnableCmd(false))
	cmd.AddCommand(newSkillsInvokeCmd())
	return cmd
}

func newSkillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"catalog", "ls"},
		Short:   "List the skill catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			mgr, cleanup, err := openSkillManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			catalog := mgr.Catalog()
			if len(catalog) == 0 {
				fmt.Println("No skills found.")
				return nil
			}
			for _, sk := range catalog {
				state := "disabled"
				if sk.Enabled {
					state = "enabled"
				}
				fmt.Printf("%-24s [%s/%s] %s\n", sk.ID, sk.Source, state, sk.Description)
			}
			return nil
		},
	}
}

func newSkillsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <path>",
		Short: "Install a skill from a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			mgr, cleanup, err := openSkillManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			sk, err := mgr.Install(ctx, args[0])
			if err != nil {
				return fmt.Errorf("install: %w", err)
			}
			fmt.Printf("Installed %s (%s)\n", sk.ID, sk.Name)
			return nil
		},
	}
}

func newSkillsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			mgr, cleanup, err := openSkillManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := mgr.Remove(ctx, args[0]); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newSkillsEnableCmd(enable bool) *cobra.Command {
	use := "enable <id>"
	short := "Enable a skill's inclusion in the prompt context"
	if !enable {
		use = "disable <id>"
		short = "Disable a skill's inclusion in the prompt context"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			mgr, cleanup, err := openSkillManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if enable {
				err = mgr.Enable(args[0])
			} else {
				err = mgr.Disable(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], map[bool]string{true: "enabled", false: "disabled"}[enable])
			return nil
		},
	}
}

func newSkillsInvokeCmd() *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "invoke <id>",
		Short: "Run a skill's WASM script directly, bypassing the orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			mgr, cleanup, err := openSkillManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			raw := json.RawMessage(params)
			if params == "" {
				raw = json.RawMessage("{}")
			}
			result, err := mgr.Invoke(ctx, args[0], raw)
			if err != nil {
				return fmt.Errorf("invoke: %w", err)
			}
			fmt.Printf("result: %d\n", result)
			return nil
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "JSON parameters to pass to the skill")
	return cmd
}
