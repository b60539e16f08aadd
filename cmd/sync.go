package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/tasks"
)

// syncReport is the JSON shape of one resource sync.
type syncReport struct {
	UserID     string `json:"user_id"`
	Resource   string `json:"resource"`
	Fetched    int    `json:"fetched"`
	Mapped     int    `json:"mapped"`
	Skipped    int    `json:"skipped"`
	Added      int64  `json:"added"`
	Removed    int64  `json:"removed"`
	Unchanged  int    `json:"unchanged"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func newSyncReport(target tasks.SyncTarget, res *tasks.SyncResult, err error) syncReport {
	rep := syncReport{UserID: target.UserID, Resource: string(target.ResourceType)}
	if res != nil {
		rep.Fetched = res.Fetched
		rep.Mapped = res.Mapped
		rep.Skipped = res.Skipped
		rep.Added = res.Added
		rep.Removed = res.Removed
		rep.Unchanged = res.Unchanged
		rep.DurationMS = res.Duration.Milliseconds()
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

// startProgress prints updates until the returned stop function is called.
func (r *Runner) startProgress(quiet bool) (chan<- tasks.ProgressUpdate, func()) {
	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range progressCh {
			if quiet {
				continue
			}
			switch update.Phase {
			case tasks.ResolveToken, tasks.Refresh, tasks.Authorize:
				r.writePlain("🔑 %s\n", update.Message)
			case tasks.Fetch:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.Map, tasks.Reconcile:
				r.writePlain("   %s\n", update.Message)
			case tasks.Done:
				r.writePlain("✓ %s\n", update.Message)
			case tasks.BulkSync:
				r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
			}
		}
	}()

	return progressCh, func() {
		close(progressCh)
		<-done
	}
}

// SyncRun syncs resources in the foreground for one user or, with --all, every user holding a refresh token.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	types, err := resourceTypes(cmd.StringSlice("resource"))
	if err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	if cmd.Bool("all") {
		return r.syncAll(ctx, types, cmd.Int("workers"), asJSON)
	}

	user, err := r.resolveUser(ctx, cmd.String("user"))
	if err != nil {
		return fmt.Errorf("%w (or pass --all)", err)
	}

	r.logger.Info("starting sync", "user", user.ID(), "resources", types)

	progress, stop := r.startProgress(asJSON)
	items, syncErr := r.engine.SyncAll(ctx, user.ID(), progress, types...)
	stop()

	reports := make([]syncReport, 0, len(items))
	for _, item := range items {
		reports = append(reports, newSyncReport(item.Target, item.Result, item.Error))
	}

	if asJSON {
		if err := r.writeJSON(reports, true); err != nil {
			return err
		}
		return syncErr
	}

	r.writePlain("\n")
	r.writePlainHeader(fmt.Sprintf("Sync complete for %s", user.Username()))
	r.writeReports(reports)
	return syncErr
}

func (r *Runner) syncAll(ctx context.Context, types []models.ResourceType, workers int, asJSON bool) error {
	userIDs, err := r.vault.RefreshableUsers(ctx)
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return r.writePlain("No authorized users to sync.\n")
	}

	targets := tasks.TargetsFor(userIDs, types...)
	r.logger.Info("starting bulk sync", "users", len(userIDs), "targets", len(targets))

	progress, stop := r.startProgress(asJSON)
	result, err := r.engine.BulkSync(ctx, progress, targets, tasks.BulkSyncOpts{
		NumWorkers: workers,
		RateLimit:  r.config.Sync.RequestsPerSecond,
	})
	stop()
	if err != nil {
		return err
	}

	reports := make([]syncReport, 0, len(result.Items))
	for _, item := range result.Items {
		reports = append(reports, newSyncReport(item.Target, item.Result, item.Error))
	}

	if asJSON {
		if err := r.writeJSON(reports, true); err != nil {
			return err
		}
	} else {
		r.writePlain("\n")
		r.writePlainHeader("Bulk sync complete")
		r.writeReports(reports)
		r.writePlain("\nSucceeded: %d/%d in %s\n", result.Succeeded, result.Total, result.Duration.Round(time.Millisecond))
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", result.Failed, result.Total)
	}
	return nil
}

func (r *Runner) writeReports(reports []syncReport) {
	for _, rep := range reports {
		if rep.Error != "" {
			r.writePlain("✗ %s/%s: %s\n", rep.UserID, rep.Resource, rep.Error)
			continue
		}
		r.writePlain("%-10s fetched %d, +%d -%d =%d", rep.Resource, rep.Fetched, rep.Added, rep.Removed, rep.Unchanged)
		if rep.Skipped > 0 {
			r.writePlain(" (skipped %d without a URL)", rep.Skipped)
		}
		r.writePlain("\n")
	}
}

// SyncEnqueue schedules sync jobs for a user without running them.
func (r *Runner) SyncEnqueue(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	user, err := r.resolveUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	types, err := resourceTypes(cmd.StringSlice("resource"))
	if err != nil {
		return err
	}

	for _, rt := range types {
		job, err := r.scheduler.EnqueueSync(ctx, user.ID(), rt)
		if err != nil {
			return err
		}
		r.writePlain("✓ Queued %s (%s)\n", job.Label(), job.ID)
	}
	return nil
}

// Refresh exchanges the user's refresh token now.
func (r *Runner) Refresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	user, err := r.resolveUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	if err := r.engine.RefreshToken(ctx, user.ID(), nil); err != nil {
		if errors.Is(err, shared.ErrCredentialExpiredOrMissing) {
			return fmt.Errorf("%w: run `spotsync auth login` to re-authorize", err)
		}
		return err
	}

	return r.writePlain("✓ Access token refreshed for %s\n", user.Username())
}
