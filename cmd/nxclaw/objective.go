package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/spf13/cobra"
)

func openObjectiveStore(cfg config.Config) (*objectives.Store, func(), error) {
	b := bus.New(bus.Config{})
	store, err := objectives.Open(filepath.Join(cfg.HomeDir, "state", "objectives.json"), b)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("open objectives: %w", err)
	}
	return store, b.Close, nil
}

func newObjectiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objective",
		Aliases: []string{"objectives"},
		Short:   "Add, list, and update autonomous-loop objectives",
	}
	cmd.AddCommand(newObjectiveAddCmd())
	cmd.AddCommand(newObjectiveListCmd())
	cmd.AddCommand(newObjectiveUpdateCmd())
	return cmd
}

func newObjectiveAddCmd() *cobra.Command {
	var description string
	var priority int
	var source string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a new objective for the autonomous loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closer, err := openObjectiveStore(cfg)
			if err != nil {
				return err
			}
			defer closer()

			if source == "" {
				source = "cli"
			}
			obj, err := store.Add(args[0], description, priority, source)
			if err != nil {
				return err
			}
			fmt.Printf("Added objective %s (priority %d): %s\n", obj.ID, obj.Priority, obj.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Longer description of what success looks like")
	cmd.Flags().IntVar(&priority, "priority", 3, "Priority, 1 (highest) to 5 (lowest)")
	cmd.Flags().StringVar(&source, "source", "cli", "Who or what created this objective")
	return cmd
}

func newObjectiveListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List objectives, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closer, err := openObjectiveStore(cfg)
			if err != nil {
				return err
			}
			defer closer()

			list := store.List(objectives.Status(strings.ToLower(status)))
			if len(list) == 0 {
				fmt.Println("No objectives.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tRUNS\tTITLE")
			for _, o := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", o.ID, o.Priority, o.Status, o.RunCount, o.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, blocked, completed, failed, cancelled)")
	return cmd
}

func newObjectiveUpdateCmd() *cobra.Command {
	var status, note string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an objective's status and/or attach a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closer, err := openObjectiveStore(cfg)
			if err != nil {
				return err
			}
			defer closer()

			existing := store.GetByID(args[0])
			if existing == nil {
				return fmt.Errorf("no such objective: %s", args[0])
			}
			newStatus := existing.Status
			if status != "" {
				newStatus = objectives.Status(strings.ToLower(status))
			}
			obj, err := store.Update(args[0], newStatus, note)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s: status=%s runs=%d\n", obj.ID, obj.Status, obj.RunCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&note, "note", "", "Note to attach")
	return cmd
}
