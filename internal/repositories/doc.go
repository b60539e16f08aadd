// Package repositories implements SQLite persistence for all domain entities.
//
// Key Implementations:
//   - [UserRepository] : local accounts, looked up by external username
//   - [CredentialRepository] : encrypted tokens, one row per (user, platform)
//   - [RecordRepository] : partition-scoped synced records with insert-or-ignore and bulk delete
//   - [JobRepository] : the durable job queue with atomic claim
//
// Repositories take a [DBTX] so reconciliation can run them inside a single transaction via [WithTx].
// Timestamps are written in UTC so lexical comparison in SQLite matches chronological order.
package repositories
