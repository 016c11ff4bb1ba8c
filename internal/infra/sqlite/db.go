// Package sqlite provides the Result Store: a pure-Go SQLite-backed
// persistence layer for Classifications and Alerts. Uses WAL mode for
// concurrent reads and a single writer connection, matching the daemon's
// other on-disk state.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/infra/metrics"
)

// DB wraps a SQLite connection with WAL mode and migrations and
// implements domain.ResultStore.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/sentinel.db. Enables
// WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "sentinel.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	return OpenDSN(dsn)
}

// OpenDSN opens the store against a caller-supplied SQLite DSN (e.g. one
// forwarded from STORE_DSN), bypassing the default dir/sentinel.db
// layout. The DSN's directory, if any, must already exist.
func OpenDSN(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; keep one connection to avoid SQLITE_BUSY
	// from concurrent writers racing past the busy timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS classifications (
			id           TEXT PRIMARY KEY,
			text_hash    TEXT NOT NULL UNIQUE,
			item_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			parent_id    TEXT NOT NULL DEFAULT '',
			author       TEXT NOT NULL DEFAULT '',
			subreddit    TEXT NOT NULL DEFAULT '',
			item_created INTEGER NOT NULL,
			text         TEXT NOT NULL,
			label        TEXT NOT NULL,
			confidence   REAL NOT NULL,
			compound     REAL NOT NULL,
			model        TEXT NOT NULL,
			source       TEXT NOT NULL,
			latency_ms   INTEGER NOT NULL,
			stored_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_stored_at ON classifications(stored_at)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_label ON classifications(label)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			content_id       TEXT NOT NULL,
			kind             TEXT NOT NULL,
			severity         TEXT NOT NULL,
			keywords_matched TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			status           TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// TextHash returns the content-hash dedup key for text: the SHA-256
// digest of its bytes, hex-encoded (64 characters).
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// StoreClassification inserts c, deduping on TextHash. If a
// classification for the same text already exists, the insert is
// skipped and inserted is false; the existing row's id is returned.
func (d *DB) StoreClassification(ctx context.Context, c domain.Classification) (string, bool, error) {
	hash := c.TextHash
	if hash == "" {
		hash = TextHash(c.Text)
	}

	var existingID string
	err := d.db.QueryRowContext(ctx, `SELECT id FROM classifications WHERE text_hash = ?`, hash).Scan(&existingID)
	if err == nil {
		metrics.StoreDedupHits.Inc()
		return existingID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("check dedup: %w", err)
	}

	id := c.ID
	if id == "" {
		id = hash
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO classifications
			(id, text_hash, item_id, kind, parent_id, author, subreddit, item_created,
			 text, label, confidence, compound, model, source, latency_ms, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, hash, c.RawItem.ID, string(c.Kind), c.ParentID, c.Author, c.Subreddit,
		c.CreatedAt.Unix(), c.Text, string(c.Label), c.Confidence, c.Compound,
		c.Model, string(c.Source), c.LatencyMs, c.StoredAt.Unix(),
	)
	if err != nil {
		return "", false, fmt.Errorf("insert classification: %w", err)
	}
	metrics.StoreWrites.Inc()
	return id, true, nil
}

// StoreAlert inserts a new alert record.
func (d *DB) StoreAlert(ctx context.Context, a domain.Alert) (string, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO alerts (id, content_id, kind, severity, keywords_matched, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ContentID, string(a.Kind), string(a.Severity),
		strings.Join(a.KeywordsMatched, ","), a.CreatedAt.Unix(), string(a.Status),
	)
	if err != nil {
		return "", fmt.Errorf("insert alert: %w", err)
	}
	return a.ID, nil
}

// UpdateAlertStatus moves an alert into a new triage status. note is
// currently unused by the schema but kept in the interface for a future
// audit trail. Returns false if no alert with id exists.
func (d *DB) UpdateAlertStatus(ctx context.Context, id string, status domain.AlertStatus, note string) (bool, error) {
	result, err := d.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return false, fmt.Errorf("update alert status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Summarize aggregates classifications and alerts stored within the
// last window seconds.
func (d *DB) Summarize(ctx context.Context, window int64) (domain.Summary, error) {
	since := time.Now().Unix() - window

	summary := domain.Summary{
		LabelCounts:  make(map[domain.Label]int),
		SourceCounts: make(map[domain.VerdictSource]int),
		AlertCounts:  make(map[domain.AlertKind]map[domain.Severity]int),
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT label, source, latency_ms FROM classifications WHERE stored_at >= ?`, since)
	if err != nil {
		return summary, fmt.Errorf("summarize classifications: %w", err)
	}
	defer rows.Close()

	var totalLatency int64
	var count int
	for rows.Next() {
		var label, source string
		var latency int64
		if err := rows.Scan(&label, &source, &latency); err != nil {
			return summary, err
		}
		summary.LabelCounts[domain.Label(label)]++
		summary.SourceCounts[domain.VerdictSource(source)]++
		totalLatency += latency
		count++
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}
	if count > 0 {
		summary.AvgLatencyMs = float64(totalLatency) / float64(count)
	}

	arows, err := d.db.QueryContext(ctx,
		`SELECT kind, severity FROM alerts WHERE created_at >= ?`, since)
	if err != nil {
		return summary, fmt.Errorf("summarize alerts: %w", err)
	}
	defer arows.Close()

	for arows.Next() {
		var kind, severity string
		if err := arows.Scan(&kind, &severity); err != nil {
			return summary, err
		}
		k := domain.AlertKind(kind)
		if summary.AlertCounts[k] == nil {
			summary.AlertCounts[k] = make(map[domain.Severity]int)
		}
		summary.AlertCounts[k][domain.Severity(severity)]++
	}
	return summary, arows.Err()
}

// ListAlerts returns alerts matching status, newest first, paginated by
// limit/offset. An empty status matches all alerts.
func (d *DB) ListAlerts(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error) {
	var rows *sql.Rows
	var err error

	if status == "" {
		rows, err = d.db.QueryContext(ctx,
			`SELECT id, content_id, kind, severity, keywords_matched, created_at, status
			 FROM alerts ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = d.db.QueryContext(ctx,
			`SELECT id, content_id, kind, severity, keywords_matched, created_at, status
			 FROM alerts WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, string(status), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var kind, severity, keywords, st string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ContentID, &kind, &severity, &keywords, &createdAt, &st); err != nil {
			return nil, err
		}
		a.Kind = domain.AlertKind(kind)
		a.Severity = domain.Severity(severity)
		a.Status = domain.AlertStatus(st)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		if keywords != "" {
			a.KeywordsMatched = strings.Split(keywords, ",")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
