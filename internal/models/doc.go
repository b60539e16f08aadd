// Package models defines domain entities for the spotsync engine.
//
// The package contains two categories of types:
//
// 1. Persistent entities stored in SQLite
//   - [User] : local account, keyed by the external profile id
//   - [Credential] : encrypted access and refresh tokens per (user, platform)
//   - [SyncedRecord] : one external item inside a reconciliation [Partition]
//   - [Job] : a durable refresh or sync unit with attempt accounting
//
// 2. Transfer types
//   - [TokenBundle] : plaintext tokens from the authorization server, never persisted as-is
//   - [Media] : image, video and link sub-lists serialized as JSON on a record
//
// [ResourceType] enumerates the three synchronized collections and [JobStatus] the job state machine.
package models
