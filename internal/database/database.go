package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// DispatchRecord is the audit entry of one dispatch attempt.
// The image is never stored.
type DispatchRecord struct {
	ID         int64
	EventID    string
	NodeID     string
	Label      string
	Confidence float64
	Latitude   float64
	Longitude  float64
	DetectedAt time.Time
	Gateway    string
	Success    bool
	RecordID   string
	Error      string
	DurationMs float64
	CreatedAt  time.Time
}

// ConfigRecord represents a configuration key-value pair
type ConfigRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps the control API readable while a dispatch is being recorded
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing connection
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection
func (d *Database) Ping() error {
	return d.db.Ping()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			label TEXT NOT NULL,
			confidence REAL,
			latitude REAL,
			longitude REAL,
			detected_at DATETIME NOT NULL,
			gateway TEXT NOT NULL,
			success INTEGER DEFAULT 0,
			record_id TEXT,
			error TEXT,
			duration_ms REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_detected ON dispatch_log(detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_node_time ON dispatch_log(node_id, detected_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed")
	return nil
}

// SaveDispatch appends a dispatch audit entry
func (d *Database) SaveDispatch(rec *DispatchRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}

	query := `INSERT INTO dispatch_log
		(event_id, node_id, label, confidence, latitude, longitude, detected_at,
		 gateway, success, record_id, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := d.db.Exec(query, rec.EventID, rec.NodeID, rec.Label, rec.Confidence,
		rec.Latitude, rec.Longitude, rec.DetectedAt, rec.Gateway, success,
		rec.RecordID, rec.Error, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to save dispatch: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListDispatches returns audit entries, newest first
func (d *Database) ListDispatches(nodeID string, since *time.Time, limit int) ([]*DispatchRecord, error) {
	query := `SELECT id, event_id, node_id, label, confidence, latitude, longitude, detected_at,
		gateway, success, record_id, error, duration_ms, created_at
		FROM dispatch_log WHERE 1=1`
	args := []interface{}{}

	if nodeID != "" {
		query += " AND node_id = ?"
		args = append(args, nodeID)
	}

	if since != nil {
		query += " AND detected_at >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY detected_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	var records []*DispatchRecord
	for rows.Next() {
		var rec DispatchRecord
		var success int
		var recordID, errText sql.NullString

		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.NodeID, &rec.Label, &rec.Confidence,
			&rec.Latitude, &rec.Longitude, &rec.DetectedAt, &rec.Gateway, &success,
			&recordID, &errText, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}

		rec.Success = success == 1
		rec.RecordID = recordID.String
		rec.Error = errText.String
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispatches: %w", err)
	}
	return records, nil
}

// DeleteOldDispatches deletes audit entries older than the specified time
func (d *Database) DeleteOldDispatches(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM dispatch_log WHERE detected_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old dispatches: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// ListConfigs returns all configuration values
func (d *Database) ListConfigs() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	return configs, nil
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	_, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
