package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/formatter"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/server"
	"github.com/desertthunder/spotsync/internal/shared"
)

// AuthTimeout bounds how long `auth login` waits for the browser callback.
const AuthTimeout = 2 * time.Minute

// AuthLogin performs the OAuth2 authorization flow for Spotify.
//
// Starts a local HTTP server, opens browser for user authorization, and stores the resulting credentials.
// The callback schedules one sync job per resource. Unless --no-sync is set, that user's jobs run here;
// jobs queued for other users are left to the worker.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}
	if err := r.openStates(ctx); err != nil {
		return err
	}

	user, err := r.doOAuth(ctx, AuthTimeout)
	if err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Credentials stored for %s (user id %s)\n", user.Username(), user.ID())

	if cmd.Bool("no-sync") {
		r.writePlain("\nSync jobs are queued; run `spotsync worker` to process them.\n")
		return nil
	}

	r.writePlain("\n→ Running queued sync jobs...\n")
	n, err := r.scheduler.DrainUser(ctx, user.ID())
	if err != nil {
		return err
	}

	records, err := r.records.List(ctx, repositories.RecordFilter{UserID: user.ID(), Platform: models.PlatformSpotify})
	if err != nil {
		return err
	}
	r.writePlain("✓ Ran %d jobs: %s\n", n, formatter.Summary(records))
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, timeout time.Duration) (*models.User, error) {
	oauthHandler := server.NewOAuthHandler(r.states, r.spotify, r.engine, r.scheduler, shared.WithLogger(r.logger, "component", "oauth"))

	authURL, _, err := oauthHandler.AuthorizeURL(ctx)
	if err != nil {
		return nil, err
	}

	router := server.NewBasicRouter()
	router.Use(server.Recoverer(r.logger))
	router.Handler(oauthHandler)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	ready := make(chan string, 1)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(serverCtx, r.config.Server.Addr(), router, r.logger, ready)
	}()

	select {
	case addr := <-ready:
		r.logger.Infof("started OAuth callback server at %v", addr)
	case err := <-serverDone:
		return nil, err
	}

	r.writePlain("→ Opening browser for %s authorization...\n", r.spotify.Name())
	if err := shared.OpenBrowser(ctx, authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		result    server.OAuthResult
		waitErr   error
		serverErr error
		stopped   bool
	)

	select {
	case result = <-oauthHandler.Result():
	case serverErr = <-serverDone:
		stopped = true
		waitErr = fmt.Errorf("server error: %w", serverErr)
	case <-timer.C:
		waitErr = fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	stopServer()
	if !stopped {
		if err := <-serverDone; err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}

	if waitErr != nil {
		return nil, waitErr
	}
	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.User == nil {
		return nil, errors.New("no user received")
	}
	return result.User, nil
}

// AuthStatus lists stored credentials with their expiry and record counts.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(); err != nil {
		return err
	}

	var users []*models.User
	if ref := cmd.String("user"); ref != "" {
		user, err := r.resolveUser(ctx, ref)
		if err != nil {
			return err
		}
		users = []*models.User{user}
	} else {
		all, err := r.users.List(ctx)
		if err != nil {
			return err
		}
		users = all
	}

	if len(users) == 0 {
		return r.writePlain("No users yet. Run `spotsync auth login` to authorize an account.\n")
	}

	now := time.Now()
	for _, user := range users {
		r.writePlainHeader(fmt.Sprintf("%s (%s)", user.Username(), user.ID()))

		cred, err := r.credentials.Get(ctx, user.ID(), models.PlatformSpotify)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			r.writePlain("Credentials:   none (re-authorize with `spotsync auth login`)\n")
		case err != nil:
			return err
		default:
			r.writePlain("Credentials:   %s\n", credentialState(cred, now))
			r.writePlain("Refresh token: %t\n", cred.HasRefreshToken())
		}

		records, err := r.records.List(ctx, repositories.RecordFilter{UserID: user.ID(), Platform: models.PlatformSpotify})
		if err != nil {
			return err
		}
		r.writePlain("Records:       %s\n\n", formatter.Summary(records))
	}
	return nil
}

func credentialState(cred *models.Credential, now time.Time) string {
	if cred.ExpiresAt == nil {
		return "access token has no expiry"
	}
	if !cred.ExpiresAt.After(now) {
		return fmt.Sprintf("access token expired at %s", cred.ExpiresAt.Local().Format(time.DateTime))
	}
	return fmt.Sprintf("access token valid until %s", cred.ExpiresAt.Local().Format(time.DateTime))
}
