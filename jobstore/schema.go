/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobstore

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comment_id INTEGER NOT NULL,
		repo TEXT NOT NULL,
		pr_number INTEGER NOT NULL CHECK (pr_number > 0),
		branch TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		outcome TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_comment_id ON jobs (comment_id)`,
	`CREATE INDEX IF NOT EXISTS jobs_status ON jobs (status, id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id BIGSERIAL PRIMARY KEY,
		comment_id BIGINT NOT NULL,
		repo TEXT NOT NULL,
		pr_number INTEGER NOT NULL CHECK (pr_number > 0),
		branch TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		outcome TEXT,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_comment_id ON jobs (comment_id)`,
	`CREATE INDEX IF NOT EXISTS jobs_status ON jobs (status, id)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return s.addOwnerColumn(ctx)
}

// addOwnerColumn upgrades tables created before jobs recorded their owner.
func (s *SQLStore) addOwnerColumn(ctx context.Context) error {
	if s.driver == DriverPostgres {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE jobs ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("adding owner column: %w", err)
		}
		return nil
	}

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name = 'owner'`); err != nil {
		return fmt.Errorf("inspecting jobs table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE jobs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("adding owner column: %w", err)
	}
	return nil
}
