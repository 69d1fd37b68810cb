package store

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 1

// Migrate brings the schema up to CurrentSchemaVersion. Each migration is
// idempotent (CREATE IF NOT EXISTS) and applied in strict version order;
// the reached version is recorded in schema_version.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for version := current + 1; version <= CurrentSchemaVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d: %w", version, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record schema version %d: %w", version, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return migrateToVersion1(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func migrateToVersion1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fleet_state (
			id TEXT PRIMARY KEY,
			counter INTEGER NOT NULL DEFAULT 0,
			children TEXT NOT NULL DEFAULT '[]',
			agent_type TEXT NOT NULL DEFAULT 'orchestrator',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			sku TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			current_stock INTEGER NOT NULL DEFAULT 0,
			low_stock_threshold INTEGER NOT NULL DEFAULT 0,
			location TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stored_messages (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			location TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			operation TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			location TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_analysis (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			analysis TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS demand_forecasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL,
			location TEXT NOT NULL,
			predicted_demand INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			trend_direction TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			forecast_date TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_statistics (
			location TEXT NOT NULL,
			date TEXT NOT NULL,
			messages_today INTEGER NOT NULL DEFAULT 0,
			actions_executed INTEGER NOT NULL DEFAULT 0,
			successful_actions INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(location, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_items_location ON inventory_items(location)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_location_ts ON stored_messages(location, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sku_ts ON inventory_transactions(sku, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_forecasts_location_date ON demand_forecasts(location, forecast_date)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_stats_location_date ON chat_statistics(location, date)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}
