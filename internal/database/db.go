package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jgoulah/meterscraper/pkg/models"
	_ "modernc.org/sqlite"
)

const (
	timeFormat    = time.RFC3339
	// Fixed width so taken_at sorts as text
	takenAtFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// StoredSnapshot is a snapshot together with the run that produced it
type StoredSnapshot struct {
	ID        string
	TakenAt   time.Time
	Strategy  string
	Snapshot  models.Snapshot
	Published bool
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL UNIQUE,
		kwh REAL NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		taken_at TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		snapshot_values TEXT NOT NULL,
		published INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_published ON snapshots(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertReadings stores readings, ignoring timestamps that already exist.
// It returns how many rows were new.
func (db *DB) InsertReadings(ctx context.Context, readings []models.Reading) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO readings (ts, kwh, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	createdAt := db.now().UTC().Format(timeFormat)
	inserted := 0
	for _, r := range readings {
		res, err := stmt.ExecContext(ctx, r.Time.UTC().Format(timeFormat), r.KWh, createdAt)
		if err != nil {
			return 0, fmt.Errorf("inserting reading %s: %w", r.Time.Format(timeFormat), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting inserted rows: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing readings: %w", err)
	}
	return inserted, nil
}

// ListReadings retrieves readings at or after since, oldest first
func (db *DB) ListReadings(ctx context.Context, since time.Time) ([]models.Reading, error) {
	query := `
	SELECT ts, kwh
	FROM readings
	WHERE ts >= ?
	ORDER BY ts ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var results []models.Reading
	for rows.Next() {
		var ts string
		var r models.Reading
		if err := rows.Scan(&ts, &r.KWh); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Time, err = time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing ts: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// InsertSnapshot stores a snapshot under a new run ID and returns the ID
func (db *DB) InsertSnapshot(ctx context.Context, strategy string, snap models.Snapshot) (string, error) {
	values, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	id := uuid.NewString()
	_, err = db.conn.ExecContext(
		ctx,
		`INSERT INTO snapshots (id, taken_at, strategy, snapshot_values) VALUES (?, ?, ?, ?)`,
		id, db.now().UTC().Format(takenAtFormat), strategy, string(values),
	)
	if err != nil {
		return "", fmt.Errorf("inserting snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent snapshot, or nil if none is stored
func (db *DB) LatestSnapshot(ctx context.Context) (*StoredSnapshot, error) {
	snaps, err := db.querySnapshots(ctx, `
	SELECT id, taken_at, strategy, snapshot_values, published
	FROM snapshots
	ORDER BY taken_at DESC
	LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// ListSnapshots retrieves stored snapshots, newest first
func (db *DB) ListSnapshots(ctx context.Context, limit int) ([]StoredSnapshot, error) {
	return db.querySnapshots(ctx, `
	SELECT id, taken_at, strategy, snapshot_values, published
	FROM snapshots
	ORDER BY taken_at DESC
	LIMIT ?
	`, limit)
}

// ListUnpublishedSnapshots retrieves snapshots not yet published, oldest first
func (db *DB) ListUnpublishedSnapshots(ctx context.Context) ([]StoredSnapshot, error) {
	return db.querySnapshots(ctx, `
	SELECT id, taken_at, strategy, snapshot_values, published
	FROM snapshots
	WHERE published = 0
	ORDER BY taken_at ASC
	`)
}

// MarkPublished marks a snapshot as published
func (db *DB) MarkPublished(ctx context.Context, id string) error {
	query := `UPDATE snapshots SET published = 1 WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking snapshot as published: %w", err)
	}
	return nil
}

func (db *DB) querySnapshots(ctx context.Context, query string, args ...any) ([]StoredSnapshot, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var results []StoredSnapshot
	for rows.Next() {
		var s StoredSnapshot
		var takenAt, values string
		var published int

		if err := rows.Scan(&s.ID, &takenAt, &s.Strategy, &values, &published); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		s.TakenAt, err = time.Parse(takenAtFormat, takenAt)
		if err != nil {
			return nil, fmt.Errorf("parsing taken_at: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &s.Snapshot); err != nil {
			return nil, fmt.Errorf("decoding snapshot %s: %w", s.ID, err)
		}
		s.Published = published != 0

		results = append(results, s)
	}

	return results, rows.Err()
}
