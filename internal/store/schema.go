package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          uuid PRIMARY KEY,
		name        text NOT NULL UNIQUE,
		target_url  text NOT NULL,
		selectors   jsonb NOT NULL,
		schedule    text NOT NULL,
		active      boolean NOT NULL DEFAULT true,
		last_run    timestamptz,
		next_due    timestamptz NOT NULL,
		created_at  timestamptz NOT NULL,
		updated_at  timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id            uuid PRIMARY KEY,
		title         text NOT NULL,
		price         bigint,
		address       text NOT NULL,
		province      text NOT NULL DEFAULT '',
		city          text NOT NULL DEFAULT '',
		suburb        text,
		property_type text NOT NULL DEFAULT 'unknown',
		bedrooms      smallint,
		bathrooms     smallint,
		garage_spaces smallint,
		land_size     double precision,
		floor_size    double precision,
		source_url    text NOT NULL UNIQUE,
		latitude      double precision,
		longitude     double precision,
		scraped_at    timestamptz NOT NULL,
		created_at    timestamptz NOT NULL,
		updated_at    timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_results (
		id            uuid PRIMARY KEY,
		job_id        uuid NOT NULL,
		status        text NOT NULL,
		started_at    timestamptz NOT NULL,
		finished_at   timestamptz,
		items_found   integer NOT NULL DEFAULT 0,
		items_new     integer NOT NULL DEFAULT 0,
		items_updated integer NOT NULL DEFAULT 0,
		items_skipped integer NOT NULL DEFAULT 0,
		items_failed  integer NOT NULL DEFAULT 0,
		error_kind    text NOT NULL DEFAULT '',
		error_detail  text NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_city ON properties (city)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_price ON properties (price)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_type ON properties (property_type)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_scraped_at ON properties (scraped_at)`,
	`CREATE INDEX IF NOT EXISTS idx_run_results_job ON run_results (job_id, started_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they are missing. It is
// idempotent and runs on every serve start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
