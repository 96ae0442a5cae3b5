// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Checkpoints are stored as JSONB documents with status and timestamp
// columns projected for listing. Saves are single INSERT ... ON CONFLICT
// statements, so a reader sees either the previous checkpoint or the new
// one. Schema changes ship as embedded SQL files applied by Migrate.
package postgres
