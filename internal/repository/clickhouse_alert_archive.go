package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	pkgch "TransitWatch/pkg/clickhouse"
	applogger "TransitWatch/pkg/logger"
)

const (
	defaultAlertTable = "transit_alerts"
	insertChunkSize   = 2000
	alertColumns      = "id, chart_id, type, priority, timing, message, ts, created_at, event"
)

// CHAlertArchive stores alerts in a ClickHouse ReplacingMergeTree keyed by
// alert id, so replays from Kafka collapse on merge.
type CHAlertArchive struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHAlertArchive(ch *pkgch.Client, table string) *CHAlertArchive {
	if table == "" {
		table = defaultAlertTable
	}
	return &CHAlertArchive{ch: ch, db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHAlertArchive) SetLogger(l *applogger.Logger) { s.l = l }

var _ domrepo.AlertArchive = (*CHAlertArchive)(nil)

func (s *CHAlertArchive) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, clickhouseAlertSchema(s.table))
}

func clickhouseAlertSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id         UUID,
            chart_id   LowCardinality(String),
            type       LowCardinality(String),
            priority   LowCardinality(String),
            timing     LowCardinality(String),
            message    String,
            ts         DateTime64(3, 'UTC'),
            created_at DateTime64(3, 'UTC'),
            event      String
        )
        ENGINE = ReplacingMergeTree(created_at)
        PARTITION BY toYYYYMM(ts)
        ORDER BY (chart_id, ts, id)
    `, table)}
}

func (s *CHAlertArchive) StoreAlerts(ctx context.Context, alerts []models.Alert) error {
	for start := 0; start < len(alerts); start += insertChunkSize {
		end := min(start+insertChunkSize, len(alerts))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, a := range alerts[start:end] {
			ev, err := encodeEvent(a.Event)
			if err != nil {
				return err
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				a.ID.String(),
				a.ChartID,
				string(a.Type),
				string(a.Priority),
				string(a.Timing),
				a.Message,
				a.Timestamp.UTC(),
				a.CreatedAt.UTC(),
				ev,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, alertColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store_alerts error",
					applogger.String("table", s.table),
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("insert alerts: %w", err)
		}
	}
	return nil
}

func (s *CHAlertArchive) ListAlerts(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.Alert, error) {
	q := fmt.Sprintf(`
        SELECT toString(id), chart_id, type, priority, timing, message, ts, created_at, event
        FROM %s FINAL
        WHERE chart_id = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, chartID, from.UTC(), to.UTC(), limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse list_alerts query error",
				applogger.String("table", s.table),
				applogger.String("chart", chartID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Alert, 0, limit)
	for rows.Next() {
		var (
			r      alertRow
			ts, ca time.Time
		)
		if err := rows.Scan(&r.id, &r.chartID, &r.typ, &r.priority, &r.timing, &r.message, &ts, &ca, &r.event); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.ts, r.createdAt = ts, ca
		a, err := r.toAlert()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHAlertArchive) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client owns the pool.
func (s *CHAlertArchive) Close() error { return nil }

type alertRow struct {
	id, chartID, typ, priority, timing, message, event string
	ts, createdAt                                       time.Time
}

func (r alertRow) toAlert() (models.Alert, error) {
	id, err := uuid.Parse(r.id)
	if err != nil {
		return models.Alert{}, fmt.Errorf("parse alert id: %w", err)
	}
	a := models.Alert{
		ID:        id,
		ChartID:   r.chartID,
		Type:      models.EventType(r.typ),
		Priority:  models.Priority(r.priority),
		Timing:    models.Timing(r.timing),
		Message:   r.message,
		Timestamp: r.ts.UTC(),
		CreatedAt: r.createdAt.UTC(),
	}
	if r.event != "" {
		if err := json.Unmarshal([]byte(r.event), &a.Event); err != nil {
			return models.Alert{}, fmt.Errorf("decode alert event: %w", err)
		}
	}
	return a, nil
}

func encodeEvent(ev models.TransitEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode alert event: %w", err)
	}
	return string(b), nil
}
