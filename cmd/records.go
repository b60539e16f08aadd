package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotsync/internal/formatter"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
)

// RecordsList prints synced records, optionally narrowed to a user and resource types.
func (r *Runner) RecordsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	types, err := resourceTypes(cmd.StringSlice("resource"))
	if err != nil {
		return err
	}

	filter := repositories.RecordFilter{Platform: models.PlatformSpotify, Limit: cmd.Int("limit")}
	if ref := cmd.String("user"); ref != "" {
		user, err := r.resolveUser(ctx, ref)
		if err != nil {
			return err
		}
		filter.UserID = user.ID()
	}

	var records []*models.SyncedRecord
	for _, rt := range types {
		filter.ResourceType = rt
		page, err := r.records.List(ctx, filter)
		if err != nil {
			return err
		}
		records = append(records, page...)
	}

	return formatter.WriteRecords(r.output, format, records)
}

// RecordsExport writes a user's records to a directory of Markdown files.
func (r *Runner) RecordsExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(); err != nil {
		return err
	}

	user, err := r.resolveUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	records, err := r.records.List(ctx, repositories.RecordFilter{UserID: user.ID(), Platform: models.PlatformSpotify})
	if err != nil {
		return err
	}

	dir := cmd.String("output")
	if dir == "" {
		dir = user.Username()
	}

	result, err := formatter.WriteMarkdownExport(records, dir, fmt.Sprintf("Spotify library of %s", user.Username()))
	if err != nil {
		return err
	}

	r.writePlain("✓ Exported %d records to %s\n", len(records), result.Directory)
	for _, f := range result.Files {
		r.writePlain("  %s\n", f)
	}
	return nil
}

// CredentialsDisconnect deletes a user's credentials. With --purge the user's synced records go too.
func (r *Runner) CredentialsDisconnect(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	user, err := r.resolveUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	if err := r.vault.Disconnect(ctx, user.ID()); err != nil {
		return err
	}
	r.writePlain("✓ Credentials removed for %s\n", user.Username())

	if !cmd.Bool("purge") {
		return nil
	}

	n, err := r.records.DeleteForUser(ctx, user.ID(), r.vault.Platform())
	if err != nil {
		return fmt.Errorf("failed to purge records: %w", err)
	}
	return r.writePlain("✓ Deleted %d synced records\n", n)
}
