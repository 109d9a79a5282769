package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes read-modify-write cycles per record,
	// which is the only locking discipline the pipeline needs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			person_key_ref TEXT NOT NULL,
			identity TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			impression TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at_unix INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS profile_accounts (
			profile_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			platform_user_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(profile_id, platform, platform_user_id),
			FOREIGN KEY(profile_id) REFERENCES profiles(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS sobriquets (
			profile_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			group_id TEXT NOT NULL,
			name TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at_unix INTEGER,
			UNIQUE(profile_id, platform, group_id, name),
			FOREIGN KEY(profile_id) REFERENCES profiles(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sobriquets_group
			ON sobriquets(profile_id, platform, group_id);`,
		`CREATE INDEX IF NOT EXISTS idx_profile_accounts_account
			ON profile_accounts(platform, platform_user_id);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Maintenance refreshes query planner statistics and compacts free pages.
// Safe to run while the pipeline is writing; everything goes through the
// same single connection.
func (s *Store) Maintenance(ctx context.Context) error {
	for _, query := range []string{`ANALYZE;`, `PRAGMA optimize;`, `PRAGMA incremental_vacuum;`} {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("store maintenance: %w", err)
		}
	}
	return nil
}

// Stats reports row counts per table for observability endpoints.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{}
	for _, table := range []string{"profiles", "profile_accounts", "sobriquets"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
