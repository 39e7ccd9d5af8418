// Package core provides the ingestion and referential-integrity engine for
// thermal camera telemetry and egress configuration.
//
// This package has no transport dependencies. It is used by the web server,
// the sheetload CLI and tests without modification.
//
// # Architecture
//
//   - Table Definitions: registered from internal/core/tables via [Register].
//     Each table declares its columns, natural key, foreign keys and, for
//     telemetry, the header signatures that classify an uploaded sheet.
//   - Row Store: [RowStore] and [Tx] abstract the relational store. Every
//     request runs inside one transaction opened with [WithTx].
//   - Service: the entry point for ingestion, bundle reads, egress CRUD and
//     guarded deletes.
//
// # Ingestion
//
// A batch of sheets flows through three stages inside one transaction:
//
//  1. [Normalizer] classifies each sheet by header signature and converts
//     rows into typed records.
//  2. [Resolve] orders records by dependency, resolves references by id or
//     name and synthesizes missing parents from the same row.
//  3. [Apply] upserts the plan and counts inserts and updates per table.
//
// Any failure rolls back the whole batch.
//
// # Error Handling
//
// Engine failures are [*Error] values classified by [Kind] and matched with
// errors.Is against the sentinels (ErrSchemaMismatch, ErrNotFound, ...).
// [MapError] turns any error into a coded [UserMessage] for the boundary.
package core
