package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
)

// SQLiteAlertArchive is a single-file alert archive for deployments without
// ClickHouse. Timestamps are stored as unix milliseconds.
type SQLiteAlertArchive struct {
	mu    sync.RWMutex
	db    *sql.DB
	table string
}

// NewSQLiteAlertArchive opens (or creates) the database file at path.
func NewSQLiteAlertArchive(path, table string) (*SQLiteAlertArchive, error) {
	if path == "" {
		path = "./data/alerts.db"
	}
	if table == "" {
		table = defaultAlertTable
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteAlertArchive{db: db, table: table}, nil
}

var _ domrepo.AlertArchive = (*SQLiteAlertArchive)(nil)

func (s *SQLiteAlertArchive) Init(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		chart_id TEXT NOT NULL,
		type TEXT NOT NULL,
		priority TEXT NOT NULL,
		timing TEXT NOT NULL,
		message TEXT NOT NULL,
		ts INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		event TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_chart_ts ON %[1]s(chart_id, ts);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteAlertArchive) StoreAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, alertColumns))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		ev, err := encodeEvent(a.Event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID.String(),
			a.ChartID,
			string(a.Type),
			string(a.Priority),
			string(a.Timing),
			a.Message,
			a.Timestamp.UnixMilli(),
			a.CreatedAt.UnixMilli(),
			ev,
		); err != nil {
			return fmt.Errorf("inserting alert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteAlertArchive) ListAlerts(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE chart_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC
		LIMIT ?
	`, alertColumns, s.table), chartID, from.UnixMilli(), to.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			r      alertRow
			ts, ca int64
		)
		if err := rows.Scan(&r.id, &r.chartID, &r.typ, &r.priority, &r.timing, &r.message, &ts, &ca, &r.event); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		r.ts, r.createdAt = time.UnixMilli(ts), time.UnixMilli(ca)
		a, err := r.toAlert()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteAlertArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteAlertArchive) Close() error {
	return s.db.Close()
}
