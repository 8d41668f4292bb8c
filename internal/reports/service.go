package reports

import (
	"context"
	"errors"
	"log"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	tariff "ecowatt-cloud/internal/tariff/domain"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// ErrNoDevices is returned when an owner has no active devices to report on.
var ErrNoDevices = errors.New("reports: owner has no active devices")

// Aggregator integrates a series into consumed energy.
type Aggregator interface {
	Integrate(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) (float64, error)
}

// DeviceLister enumerates an owner's active devices.
type DeviceLister interface {
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]devices.Device, error)
}

// ScheduleSource resolves the tariff schedule in force for a rate code.
type ScheduleSource interface {
	ScheduleFor(ctx context.Context, rateCode string, at time.Time) (tariff.Schedule, error)
}

// AlertLister returns an owner's alerts inside a window.
type AlertLister interface {
	ListByOwner(ctx context.Context, ownerID int64, from, to time.Time) ([]alerts.Alert, error)
}

// DayUsage is one day's consumption inside a billing cycle.
type DayUsage struct {
	Date time.Time `json:"date"`
	KWh  float64   `json:"kwh"`
}

// Report is a full monthly consumption report for one owner.
type Report struct {
	OwnerID     int64          `json:"owner_id"`
	Cycle       tariff.Cycle   `json:"cycle"`
	DeviceNames []string       `json:"device_names"`
	Days        []DayUsage     `json:"days"`
	TotalKWh    float64        `json:"total_kwh"`
	HighestDay  DayUsage       `json:"highest_day"`
	LowestDay   DayUsage       `json:"lowest_day"`
	AvgDailyKWh float64        `json:"avg_daily_kwh"`
	Cost        tariff.Cost    `json:"cost"`
	RateCode    string         `json:"rate_code"`
	CO2Kg       float64        `json:"co2_kg"`
	Trees       float64        `json:"equivalent_trees"`
	Alerts      []alerts.Alert `json:"alerts"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Service builds monthly reports from the series store and tariff tables.
type Service struct {
	aggregator   Aggregator
	lister       DeviceLister
	schedules    ScheduleSource
	alertLister  AlertLister
	carbonFactor float64
	nowFunc      func() time.Time
	logger       *log.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithCarbonFactor overrides the grid emission factor in kg CO2 per kWh.
func WithCarbonFactor(factor float64) ServiceOption {
	return func(s *Service) {
		if factor > 0 {
			s.carbonFactor = factor
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the report service.
func NewService(aggregator Aggregator, lister DeviceLister, schedules ScheduleSource, alertLister AlertLister, opts ...ServiceOption) (*Service, error) {
	if aggregator == nil {
		return nil, errors.New("reports: aggregator is required")
	}
	if lister == nil {
		return nil, errors.New("reports: device lister is required")
	}
	if schedules == nil {
		return nil, errors.New("reports: schedule source is required")
	}
	if alertLister == nil {
		return nil, errors.New("reports: alert lister is required")
	}
	s := &Service{
		aggregator:   aggregator,
		lister:       lister,
		schedules:    schedules,
		alertLister:  alertLister,
		carbonFactor: 0.435,
		nowFunc:      time.Now,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Monthly builds the report for the billing cycle anchored in the given
// month. The billing day and rate code come from the owner's first active
// device. A device whose series cannot be read contributes zero for that
// day rather than failing the report.
func (s *Service) Monthly(ctx context.Context, ownerID int64, year int, month time.Month) (*Report, error) {
	devs, err := s.lister.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, ErrNoDevices
	}

	cycle, err := tariff.CycleForMonth(year, month, devs[0].BillingDay)
	if err != nil {
		return nil, err
	}
	rateCode := devs[0].RateCode

	names := make([]string, 0, len(devs))
	for _, dev := range devs {
		names = append(names, dev.Name)
	}

	days, total := s.dailyConsumption(ctx, devs, cycle)

	highest, lowest := days[0], days[0]
	for _, day := range days[1:] {
		if day.KWh > highest.KWh {
			highest = day
		}
		if day.KWh < lowest.KWh {
			lowest = day
		}
	}
	avg := total / float64(len(days))

	schedule, err := s.schedules.ScheduleFor(ctx, rateCode, cycle.Start)
	if err != nil {
		return nil, err
	}
	cost, err := tariff.ComputeCost(total, schedule)
	if err != nil {
		return nil, err
	}

	cycleAlerts, err := s.alertLister.ListByOwner(ctx, ownerID, cycle.Start, cycle.End)
	if err != nil {
		s.logger.Printf("reports: alert lookup for owner %d failed: %v", ownerID, err)
		cycleAlerts = nil
	}

	co2 := total * s.carbonFactor
	return &Report{
		OwnerID:     ownerID,
		Cycle:       cycle,
		DeviceNames: names,
		Days:        days,
		TotalKWh:    total,
		HighestDay:  highest,
		LowestDay:   lowest,
		AvgDailyKWh: avg,
		Cost:        cost,
		RateCode:    rateCode,
		CO2Kg:       co2,
		Trees:       co2 / 22,
		Alerts:      cycleAlerts,
		GeneratedAt: s.nowFunc().UTC(),
	}, nil
}

// dailyConsumption sums every device's integrated energy per cycle day.
// Every day of the cycle appears, zero when no device reported.
func (s *Service) dailyConsumption(ctx context.Context, devs []devices.Device, cycle tariff.Cycle) ([]DayUsage, float64) {
	var days []DayUsage
	var total float64
	for dayStart := cycle.Start; dayStart.Before(cycle.End); dayStart = dayStart.AddDate(0, 0, 1) {
		dayEnd := dayStart.AddDate(0, 0, 1)
		if dayEnd.After(cycle.End) {
			dayEnd = cycle.End
		}
		var kwh float64
		for _, dev := range devs {
			key := timeseries.SeriesKey{OwnerID: dev.OwnerID, DeviceID: dev.ID, Metric: timeseries.MetricPowerW}
			devKWh, err := s.aggregator.Integrate(ctx, key, dayStart.UnixMilli(), dayEnd.UnixMilli())
			if err != nil {
				s.logger.Printf("reports: integrate device %d day %s failed: %v", dev.ID, dayStart.Format("2006-01-02"), err)
				continue
			}
			kwh += devKWh
		}
		days = append(days, DayUsage{Date: dayStart, KWh: kwh})
		total += kwh
	}
	return days, total
}
