package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Collections persisted by the adapter. One table per collection, each
// document stored as JSONB keyed by entity id.
const (
	Planners    = "planners"
	Sections    = "sections"
	Activities  = "activities"
	TimeEntries = "time_entries"
	Users       = "users"
)

var collections = []string{Planners, Sections, Activities, TimeEntries, Users}

// EnsureSchema creates the per-collection tables and indexes if they do
// not exist. The schema is embedded because every collection has the
// same shape; there is nothing for file-based migrations to version.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, collection := range collections {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				doc JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, collection)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure collection %s: %w", collection, err)
		}
		index := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_doc ON %s USING GIN (doc jsonb_path_ops)`,
			collection, collection,
		)
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("ensure index on %s: %w", collection, err)
		}
	}
	return nil
}
