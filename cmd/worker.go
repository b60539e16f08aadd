package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/spotsync/internal/formatter"
	"github.com/desertthunder/spotsync/internal/jobs"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/server"
	"github.com/desertthunder/spotsync/internal/shared"
)

// SweepRefresh enqueues a refresh job for every user holding a refresh token and prints the count.
func (r *Runner) SweepRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	n, err := r.scheduler.SweepRefresh(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("Enqueued %d refresh jobs\n", n)
}

// SweepSync enqueues a sync job per resource for every user holding a refresh token and prints the count.
func (r *Runner) SweepSync(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	n, err := r.scheduler.SweepSync(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("Enqueued %d sync jobs\n", n)
}

// Worker runs the scheduler and, unless --no-server is set, the OAuth and metrics endpoints until interrupted.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	if cmd.Bool("drain") {
		n, err := r.scheduler.Drain(ctx)
		if err != nil {
			return err
		}
		return r.writePlain("Ran %d jobs\n", n)
	}

	serve := !cmd.Bool("no-server")
	if serve {
		if err := r.openStates(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.scheduler.Run(gctx) })

	if serve {
		logger := shared.WithLogger(r.logger, "component", "http")
		oauth := server.NewOAuthHandler(r.states, r.spotify, r.engine, r.scheduler, logger)
		app := server.NewApp(oauth, jobs.Handler(r.registry), logger)
		g.Go(func() error {
			return server.Serve(gctx, r.config.Server.Addr(), app, logger, nil)
		})
	}

	r.logger.Info("worker started", "workers", r.config.Jobs.Workers, "server", serve)
	return g.Wait()
}

// JobsList prints recent jobs.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	filter := repositories.JobFilter{
		Status: models.JobStatus(cmd.String("status")),
		Kind:   models.JobKind(cmd.String("kind")),
		Limit:  cmd.Int("limit"),
	}
	if err := validateJobFilter(filter); err != nil {
		return err
	}

	if ref := cmd.String("user"); ref != "" {
		user, err := r.resolveUser(ctx, ref)
		if err != nil {
			return err
		}
		filter.UserID = user.ID()
	}

	list, err := r.jobRepo.List(ctx, filter)
	if err != nil {
		return err
	}
	return formatter.WriteJobs(r.output, format, list)
}

func validateJobFilter(f repositories.JobFilter) error {
	switch f.Status {
	case "", models.JobPending, models.JobRunning, models.JobRetrying, models.JobSucceeded, models.JobFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, f.Status)
	}
	switch f.Kind {
	case "", models.JobSync, models.JobRefresh:
	default:
		return fmt.Errorf("%w: unknown kind %q", shared.ErrInvalidArgument, f.Kind)
	}
	return nil
}
