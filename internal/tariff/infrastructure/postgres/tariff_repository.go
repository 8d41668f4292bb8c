package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	tariff "ecowatt-cloud/internal/tariff/domain"
)

const defaultTariffTiersTable = "tariff_tiers"

// DBTX is the subset of *sql.DB used by the repository.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TariffRepository resolves tier schedules from tariff tables.
type TariffRepository struct {
	db    DBTX
	table string
}

// TariffOption configures the repository.
type TariffOption func(*TariffRepository)

// WithTariffTable overrides the tiers table name.
func WithTariffTable(table string) TariffOption {
	return func(r *TariffRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewTariffRepository constructs a repository.
func NewTariffRepository(db DBTX, opts ...TariffOption) *TariffRepository {
	repo := &TariffRepository{db: db, table: defaultTariffTiersTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ScheduleFor returns the ordered tiers and fixed charge active for a
// rate code on the target date. A NULL upper bound marks the unbounded
// top tier.
func (r *TariffRepository) ScheduleFor(ctx context.Context, rateCode string, at time.Time) (tariff.Schedule, error) {
	if r == nil || r.db == nil {
		return tariff.Schedule{}, errors.New("tariff repo: nil db")
	}
	if rateCode == "" {
		return tariff.Schedule{}, errors.New("tariff repo: empty rate code")
	}

	query := fmt.Sprintf(`
SELECT level_name, lower_limit_kwh, upper_limit_kwh, price_per_kwh, COALESCE(fixed_charge, 0)
FROM %s
WHERE rate_code = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
ORDER BY lower_limit_kwh ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, rateCode, at.UTC())
	if err != nil {
		return tariff.Schedule{}, err
	}
	defer rows.Close()

	schedule := tariff.Schedule{RateCode: rateCode}
	for rows.Next() {
		var (
			tier        tariff.Tier
			upper       sql.NullFloat64
			fixedCharge float64
		)
		if err := rows.Scan(&tier.Name, &tier.LowerKWh, &upper, &tier.PricePerKWh, &fixedCharge); err != nil {
			return tariff.Schedule{}, err
		}
		if upper.Valid {
			tier.UpperKWh = upper.Float64
		} else {
			tier.UpperKWh = math.Inf(1)
		}
		if fixedCharge > schedule.FixedCharge {
			schedule.FixedCharge = fixedCharge
		}
		schedule.Tiers = append(schedule.Tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return tariff.Schedule{}, err
	}
	if len(schedule.Tiers) == 0 {
		return tariff.Schedule{}, fmt.Errorf("tariff repo: no tiers for rate %q at %s", rateCode, at.Format("2006-01-02"))
	}
	if err := schedule.Validate(); err != nil {
		return tariff.Schedule{}, err
	}
	return schedule, nil
}
