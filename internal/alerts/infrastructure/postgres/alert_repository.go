package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
)

const defaultAlertsTable = "alerts"

// DBTX is the subset of *sql.DB used by the repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AlertRepository persists detector alerts in Postgres.
type AlertRepository struct {
	db    DBTX
	table string
}

// AlertOption configures the repository.
type AlertOption func(*AlertRepository)

// WithAlertsTable overrides the default table name.
func WithAlertsTable(table string) AlertOption {
	return func(r *AlertRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db DBTX, opts ...AlertOption) *AlertRepository {
	repo := &AlertRepository{db: db, table: defaultAlertsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create stores one alert.
func (r *AlertRepository) Create(ctx context.Context, alert alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id, owner_id, kind, magnitude_w, value, raised_at)
VALUES ($1, $2, $3, $4, $5, $6)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		alert.DeviceID, alert.OwnerID, string(alert.Kind), alert.MagnitudeW, alert.Value(), alert.RaisedAt.UTC())
	return err
}

// ListByOwner returns an owner's alerts raised inside [from, to), newest first.
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerID int64, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if ownerID <= 0 {
		return nil, errors.New("alert repo: invalid owner id")
	}

	query := fmt.Sprintf(`
SELECT device_id, owner_id, kind, magnitude_w, raised_at
FROM %s
WHERE owner_id = $1 AND raised_at >= $2 AND raised_at < $3
ORDER BY raised_at DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, ownerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a    alerts.Alert
			kind string
		)
		if err := rows.Scan(&a.DeviceID, &a.OwnerID, &kind, &a.MagnitudeW, &a.RaisedAt); err != nil {
			return nil, err
		}
		a.Kind = alerts.Kind(kind)
		a.RaisedAt = a.RaisedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
