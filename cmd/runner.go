package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/fetch"
	"github.com/desertthunder/spotsync/internal/jobs"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/oauthstate"
	"github.com/desertthunder/spotsync/internal/reconcile"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/services"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/tasks"
	"github.com/desertthunder/spotsync/internal/vault"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and the sync engine are opened lazily so `setup` works before credentials or a key exist.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db          *sql.DB
	users       *repositories.UserRepository
	credentials *repositories.CredentialRepository
	records     *repositories.RecordRepository
	jobRepo     *repositories.JobRepository

	vault     *vault.Vault
	spotify   *services.SpotifyService
	engine    *tasks.SpotifyEngine
	scheduler *jobs.Scheduler
	metrics   *jobs.Metrics
	registry  *prometheus.Registry
	states    oauthstate.Store

	closers []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
//
// DB and States are optional and replace the configured database and state store.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB
	States     oauthstate.Store
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		states:     opts.States,
	}
	if opts.DB != nil {
		r.useDB(opts.DB)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, refreshCommand, sweepCommand, workerCommand,
		recordsCommand, jobsCommand, credentialsCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and any component opened after the call.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) useDB(db *sql.DB) {
	r.db = db
	r.users = repositories.NewUserRepository(db)
	r.credentials = repositories.NewCredentialRepository(db)
	r.records = repositories.NewRecordRepository(db)
	r.jobRepo = repositories.NewJobRepository(db)
}

// openStore opens the database, applies migrations and builds the repositories.
func (r *Runner) openStore() error {
	if r.db != nil {
		return nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	r.useDB(db)
	return nil
}

// openEngine validates the configuration and builds the vault, Spotify client, sync engine and scheduler.
func (r *Runner) openEngine() error {
	if r.engine != nil {
		return nil
	}

	if err := r.config.Validate(); err != nil {
		return err
	}
	if err := r.openStore(); err != nil {
		return err
	}

	key, err := r.config.Security.Key()
	if err != nil {
		return err
	}

	v, err := vault.New(key, r.credentials, vault.WithLogger(shared.WithLogger(r.logger, "component", "vault")))
	if err != nil {
		return fmt.Errorf("failed to create credential vault: %w", err)
	}

	spotify, err := services.NewSpotifyService(r.config.Credentials.Spotify.Map(), r.httpClient, r.config.Sync.RequestTimeout)
	if err != nil {
		return fmt.Errorf("failed to create Spotify service: %w", err)
	}

	fetcher := fetch.New(spotify.API(),
		fetch.WithPageSize(r.config.Sync.PageSize),
		fetch.WithWorkers(r.config.Sync.FetchWorkers),
		fetch.WithRateLimit(r.config.Sync.RequestsPerSecond),
		fetch.WithLogger(shared.WithLogger(r.logger, "component", "fetch")),
	)
	reconciler := reconcile.New(r.db,
		reconcile.WithBatchSize(r.config.Sync.BatchSize),
		reconcile.WithLogger(shared.WithLogger(r.logger, "component", "reconcile")),
	)

	r.vault = v
	r.spotify = spotify
	r.engine = tasks.NewSpotifyEngine(v, spotify, fetcher, reconciler, r.users, shared.WithLogger(r.logger, "component", "sync"))

	r.metrics = jobs.NewMetrics(nil)
	r.registry = jobs.NewRegistry(r.metrics)
	r.scheduler = jobs.New(r.jobRepo, r.engine, v, r.config.Jobs,
		jobs.WithLogger(shared.WithLogger(r.logger, "component", "jobs")),
		jobs.WithMetrics(r.metrics),
	)
	return nil
}

// openStates connects the OAuth state store selected by the [redis] section.
func (r *Runner) openStates(ctx context.Context) error {
	if r.states != nil {
		return nil
	}

	states, closeFn, err := oauthstate.New(ctx, r.config.Redis)
	if err != nil {
		return fmt.Errorf("failed to open oauth state store: %w", err)
	}
	r.states = states
	r.closers = append(r.closers, closeFn)
	return nil
}

// Close releases everything opened by the runner, most recent first.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// resolveUser accepts a local user id or a Spotify username.
func (r *Runner) resolveUser(ctx context.Context, ref string) (*models.User, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: --user is required", shared.ErrMissingArgument)
	}

	user, err := r.users.Get(ctx, ref)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	user, err = r.users.GetByUsername(ctx, ref)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("user %q: %w", ref, shared.ErrNotFound)
	}
	return user, err
}

// resourceTypes parses --resource values. No values selects every resource type.
func resourceTypes(values []string) ([]models.ResourceType, error) {
	if len(values) == 0 {
		return models.ResourceTypes, nil
	}

	types := make([]models.ResourceType, 0, len(values))
	for _, v := range values {
		rt, err := models.ParseResourceType(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		types = append(types, rt)
	}
	return types, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
