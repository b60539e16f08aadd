package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/ui"
)

// TUI launches the live job dashboard.
//
// Scheduling syncs from the dashboard needs a valid configuration. Without one the dashboard is read-only.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	if err := r.openStore(); err != nil {
		return err
	}

	var enqueuer ui.SyncEnqueuer
	if err := r.openEngine(); err != nil {
		r.logger.Warn("sync engine unavailable, dashboard is read-only", "error", err)
	} else {
		enqueuer = r.scheduler
	}

	model := ui.NewModel(ctx, r.jobRepo, enqueuer, ui.DefaultRefreshInterval)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
