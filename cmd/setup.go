package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/shared"
)

// LoadConfig reads the file named by --config, falling back to defaults plus SPOTSYNC_* variables.
func (r *Runner) LoadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")

	config, err := shared.ResolveConfig(path)
	if err != nil {
		return ctx, err
	}

	r.config = config
	r.configPath = path
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Log.Level))
	return ctx, nil
}

// SetupDatabase creates the config file when missing, then initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				return err
			}
			r.writePlain("✓ Config file created at %s\n", r.configPath)
			r.writePlain("  Set credentials.spotify and security.encryption_key before syncing.\n")
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	if err := r.openStore(); err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
}

// SetupKey prints a new base64 encoded key for security.encryption_key.
//
// With --write the key is stored in the config file instead. An existing key is only replaced with --force,
// since credentials encrypted under it become unreadable.
func (r *Runner) SetupKey(ctx context.Context, cmd *cli.Command) error {
	raw := make([]byte, shared.EncryptionKeySize)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("failed to read random bytes: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(raw)

	if !cmd.Bool("write") {
		return r.writePlain("%s\n", key)
	}

	if r.configPath == "" {
		return fmt.Errorf("%w: --write needs a config file path", shared.ErrInvalidConfig)
	}
	if r.config.Security.EncryptionKey != "" && !cmd.Bool("force") {
		return fmt.Errorf("%w: security.encryption_key is already set (pass --force to replace it)", shared.ErrInvalidConfig)
	}

	r.config.Security.EncryptionKey = key
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return err
	}
	r.logger.Info("encryption key written", "path", r.configPath)
	return r.writePlain("✓ Encryption key written to %s\n", r.configPath)
}

// SetupRollback reverts the most recently applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(); err != nil {
		return err
	}
	if err := shared.RollbackMigration(r.db); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return r.writePlain("✓ Rolled back the latest migration\n")
}
