// Package tables registers all table definitions with the core registry.
// Import this package to ensure all tables are registered.
package tables

// Each file uses init() to register its tables: telemetry.go for the ingested
// camera tables, egress.go for the forwarding configuration entities and
// history.go for the ingest batch log.
