package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nx/nxclaw/internal/runtime"
)

func newStartCmd() *cobra.Command {
	var quiet, noSlack, noTelegram, noDashboard, noTUI, tui bool
	var once string
	defaultTUI := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NXCLAW_NO_TUI") == ""

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the orchestrator, autonomous loop, dashboard, and configured channels",
		Long: `Brings up the full runtime: task manager, browser controller, skill
host, LLM brain with failover, autonomous objective loop, HTTP dashboard,
and any enabled channels (Telegram). Runs until interrupted.

With --once, runs a single prompt through the orchestrator, prints the
reply, and exits instead of starting the long-running server loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noTUI {
				tui = false
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The TUI owns the alt-screen; console log lines would corrupt it.
			a, err := buildApp(ctx, quiet || tui || once != "")
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			defer a.close(context.Background())

			if once != "" {
				reply := a.orchestrator.HandleIncoming(ctx, runtime.Incoming{
					Source:    "cli",
					ChannelID: "once",
					UserID:    "cli",
					SessionID: "cli-once",
				}, once)
				fmt.Println(reply)
				if strings.HasPrefix(reply, "Runtime error:") {
					return fmt.Errorf("%s", reply)
				}
				return nil
			}

			if a.cfg.NeedsOnboarding {
				a.logger.Warn("nxclaw has not been onboarded; run `nxclaw onboard` for a starter config and policy")
			}

			errCh := make(chan error, 4)

			if !noDashboard {
				go func() {
					if err := a.dashboard.Start(ctx); err != nil {
						errCh <- fmt.Errorf("dashboard: %w", err)
					}
				}()
			}

			a.autoloop.Start(ctx)

			var tg = a.telegramChannel()
			if noTelegram {
				tg = nil
			}
			if tg != nil {
				go func() {
					if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
						errCh <- fmt.Errorf("%s: %w", tg.Name(), err)
					}
				}()
				a.logger.Info("channel started", "name", tg.Name())
			}

			if tui {
				go func() {
					if err := runTUI(ctx, a); err != nil {
						errCh <- fmt.Errorf("tui: %w", err)
					}
				}()
			} else {
				a.logger.Info("nxclaw runtime started", "home", a.cfg.HomeDir, "dashboard", a.cfg.Dashboard.BindAddr)
			}

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
			case err := <-errCh:
				a.logger.Error("runtime error, shutting down", "error", err)
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.autoloop.Stop()
			_ = a.dashboard.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&once, "once", "", "Run a single prompt through the orchestrator, print the reply, and exit")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress console logging (file logging is unaffected)")
	cmd.Flags().BoolVar(&noSlack, "no-slack", false, "Disable the Slack channel even if configured (no-op: no Slack channel is implemented)")
	cmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "Disable the Telegram channel even if configured")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Don't start the HTTP dashboard")
	cmd.Flags().BoolVar(&tui, "tui", defaultTUI, "Render a live terminal status console instead of plain log lines (default: on for an interactive terminal)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Force plain log-line output even on an interactive terminal")
	return cmd
}
