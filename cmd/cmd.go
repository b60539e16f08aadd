// submodule cmd contains command definitions
package main

import (
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/formatter"
)

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: table, json, csv or markdown",
		Value:   string(formatter.FormatTable),
	}
}

func userFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Local user id or Spotify username",
		Required: required,
	}
}

func resourceFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:    "resource",
		Aliases: []string{"r"},
		Usage:   "Resource type to sync (tracks, playlists, follows); repeatable, defaults to all",
	}
}

// setupCommand creates the config file and database
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create config.toml if missing and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "key",
				Usage: "Print a new random credential encryption key",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "write",
						Usage: "Store the key in the config file instead of printing it",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "With --write, replace an existing key",
					},
				},
				Action: r.SetupKey,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles interactive Spotify authorization
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Spotify authorization",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize a Spotify account with a local callback server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-sync",
						Usage: "Do not run the first sync after authorizing",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show stored credentials and their expiry",
				Flags:  []cli.Flag{userFlag(false)},
				Action: r.AuthStatus,
			},
		},
	}
}

// syncCommand runs syncs in the foreground
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize resources from Spotify",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Sync now for one user or every authorized user",
				Flags: []cli.Flag{
					userFlag(false),
					resourceFlag(),
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Sync every user holding a refresh token",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent syncs when using --all",
						Value: 3,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output results as JSON",
					},
				},
				Action: r.SyncRun,
			},
			{
				Name:  "enqueue",
				Usage: "Schedule sync jobs for a user",
				Flags: []cli.Flag{
					userFlag(true),
					resourceFlag(),
				},
				Action: r.SyncEnqueue,
			},
		},
	}
}

// refreshCommand exchanges a refresh token in the foreground
func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "Refresh a user's access token now",
		Flags:  []cli.Flag{userFlag(true)},
		Action: r.Refresh,
	}
}

// sweepCommand enqueues periodic work once
func sweepCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Enqueue jobs for every user holding a refresh token",
		Commands: []*cli.Command{
			{
				Name:   "refresh",
				Usage:  "Enqueue one token refresh job per user",
				Action: r.SweepRefresh,
			},
			{
				Name:   "sync",
				Usage:  "Enqueue one sync job per resource per user",
				Action: r.SweepSync,
			},
		},
	}
}

// workerCommand runs the long-lived service
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the job scheduler and the HTTP server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-server",
				Usage: "Run jobs only, without the OAuth and metrics endpoints",
			},
			&cli.BoolFlag{
				Name:  "drain",
				Usage: "Run every due job once and exit",
			},
		},
		Action: r.Worker,
	}
}

// recordsCommand inspects synced records
func recordsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Inspect synced records",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List synced records",
				Flags: []cli.Flag{
					userFlag(false),
					resourceFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records per resource type (0 for all)",
					},
					formatFlag(),
				},
				Action: r.RecordsList,
			},
			{
				Name:  "export",
				Usage: "Write a user's records as Markdown files",
				Flags: []cli.Flag{
					userFlag(true),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory (defaults to the username)",
					},
				},
				Action: r.RecordsExport,
			},
		},
	}
}

// jobsCommand inspects the job queue
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect background jobs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent jobs",
				Flags: []cli.Flag{
					userFlag(false),
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, running, retrying, succeeded, failed)",
					},
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Filter by kind (sync, refresh)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to return",
						Value: 50,
					},
					formatFlag(),
				},
				Action: r.JobsList,
			},
		},
	}
}

// credentialsCommand manages stored credentials
func credentialsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "Manage stored Spotify credentials",
		Commands: []*cli.Command{
			{
				Name:  "disconnect",
				Usage: "Delete a user's credentials",
				Flags: []cli.Flag{
					userFlag(true),
					&cli.BoolFlag{
						Name:  "purge",
						Usage: "Also delete the user's synced records",
					},
				},
				Action: r.CredentialsDisconnect,
			},
		},
	}
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"ui"},
		Usage:   "Live job dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the dashboard owns the terminal",
				Value: "./tmp/spotsync-tui.log",
			},
		},
		Action: r.TUI,
	}
}
