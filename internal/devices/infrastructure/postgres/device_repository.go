package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	devices "ecowatt-cloud/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DBTX is the subset of *sql.DB used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation of the device directory.
type DeviceRepository struct {
	db    DBTX
	table string
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ByMAC resolves a device by hardware id. Missing devices return
// ErrNotFound rather than a sql error so callers can branch.
func (r *DeviceRepository) ByMAC(ctx context.Context, mac string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	mac = devices.NormalizeMAC(mac)
	if mac == "" {
		return nil, errors.New("device repo: empty mac")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, mac, name, active, billing_day, rate_code, created_at
FROM %s
WHERE mac = $1
LIMIT 1`, r.table)

	return r.scanOne(r.db.QueryRowContext(ctx, query, mac))
}

// ByID loads a device by id.
func (r *DeviceRepository) ByID(ctx context.Context, id int64) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id <= 0 {
		return nil, errors.New("device repo: invalid id")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, mac, name, active, billing_day, rate_code, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// ListActive returns every active device, ordered by id.
func (r *DeviceRepository) ListActive(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, mac, name, active, billing_day, rate_code, created_at
FROM %s
WHERE active = TRUE
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devices.Device
	for rows.Next() {
		var d devices.Device
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.MAC, &d.Name, &d.Active, &d.BillingDay, &d.RateCode, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListActiveByOwner returns an owner's active devices, ordered by id.
func (r *DeviceRepository) ListActiveByOwner(ctx context.Context, ownerID int64) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if ownerID <= 0 {
		return nil, errors.New("device repo: invalid owner id")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, mac, name, active, billing_day, rate_code, created_at
FROM %s
WHERE owner_id = $1 AND active = TRUE
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devices.Device
	for rows.Next() {
		var d devices.Device
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.MAC, &d.Name, &d.Active, &d.BillingDay, &d.RateCode, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DeviceRepository) scanOne(row *sql.Row) (*devices.Device, error) {
	var d devices.Device
	if err := row.Scan(&d.ID, &d.OwnerID, &d.MAC, &d.Name, &d.Active, &d.BillingDay, &d.RateCode, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, devices.ErrNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}
