package results

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding durable game results.
type DB struct {
	*sql.DB
}

// Open creates or opens the database at dbPath and makes sure the schema
// exists.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			song_id TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			verse1_avg REAL,
			verse2_avg REAL,
			final_score REAL,
			chosen_level INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_song ON game_results(song_id)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_user ON game_results(user_id)`,
		`CREATE TABLE IF NOT EXISTS score_by_action (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id INTEGER NOT NULL,
			action_code INTEGER NOT NULL,
			action_name TEXT NOT NULL,
			average REAL NOT NULL,
			FOREIGN KEY (result_id) REFERENCES game_results(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS verse_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id INTEGER NOT NULL,
			verse INTEGER NOT NULL,
			perfect_count INTEGER NOT NULL,
			good_count INTEGER NOT NULL,
			bad_count INTEGER NOT NULL,
			fail_count INTEGER NOT NULL,
			correct_count INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			average REAL NOT NULL,
			FOREIGN KEY (result_id) REFERENCES game_results(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS inference_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			verse INTEGER NOT NULL,
			target_action_code INTEGER NOT NULL,
			target_action_name TEXT NOT NULL,
			predicted_label TEXT,
			confidence REAL,
			target_probability REAL,
			judgment INTEGER NOT NULL,
			frame_count INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error_message TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inference_logs_session ON inference_logs(session_id)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations applies columns added after the initial schema. Each step is
// idempotent.
func runMigrations(db *sql.DB) error {
	has, err := columnExists(db, "game_results", "interrupt_reason")
	if err != nil {
		return fmt.Errorf("check interrupt_reason column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE game_results ADD COLUMN interrupt_reason TEXT`); err != nil {
			return fmt.Errorf("run migration v1: %w", err)
		}
	}

	has, err = columnExists(db, "inference_logs", "inference_time_ms")
	if err != nil {
		return fmt.Errorf("check inference_time_ms column: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE inference_logs ADD COLUMN inference_time_ms REAL`); err != nil {
			return fmt.Errorf("run migration v2: %w", err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
