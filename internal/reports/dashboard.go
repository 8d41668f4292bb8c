package reports

import (
	"context"
	"time"

	tariff "ecowatt-cloud/internal/tariff/domain"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// Dashboard is the live summary shown on the home screen.
type Dashboard struct {
	OwnerID      int64        `json:"owner_id"`
	TodayKWh     float64      `json:"today_kwh"`
	CycleKWh     float64      `json:"cycle_kwh"`
	CycleCost    float64      `json:"cycle_cost"`
	Cycle        tariff.Cycle `json:"cycle"`
	CO2Kg        float64      `json:"co2_kg"`
	Trees        float64      `json:"equivalent_trees"`
	ActiveCount  int          `json:"active_devices"`
	DeviceNames  []string     `json:"device_names"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

// Summary builds the live dashboard for an owner: consumption since UTC
// midnight, consumption and estimated cost over the running billing cycle,
// and the cycle's carbon impact.
func (s *Service) Summary(ctx context.Context, ownerID int64) (*Dashboard, error) {
	devs, err := s.lister.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, ErrNoDevices
	}

	now := s.nowFunc().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	cycle, err := tariff.ComputeCycle(now, devs[0].BillingDay)
	if err != nil {
		return nil, err
	}

	var todayKWh, cycleKWh float64
	names := make([]string, 0, len(devs))
	for _, dev := range devs {
		names = append(names, dev.Name)
		key := timeseries.SeriesKey{OwnerID: dev.OwnerID, DeviceID: dev.ID, Metric: timeseries.MetricPowerW}
		if kwh, err := s.aggregator.Integrate(ctx, key, midnight.UnixMilli(), now.UnixMilli()); err == nil {
			todayKWh += kwh
		} else {
			s.logger.Printf("reports: today integrate device %d failed: %v", dev.ID, err)
		}
		if kwh, err := s.aggregator.Integrate(ctx, key, cycle.Start.UnixMilli(), now.UnixMilli()); err == nil {
			cycleKWh += kwh
		} else {
			s.logger.Printf("reports: cycle integrate device %d failed: %v", dev.ID, err)
		}
	}

	var cycleCost float64
	schedule, err := s.schedules.ScheduleFor(ctx, devs[0].RateCode, cycle.Start)
	if err != nil {
		s.logger.Printf("reports: schedule lookup %q failed: %v", devs[0].RateCode, err)
	} else if cost, err := tariff.ComputeCost(cycleKWh, schedule); err == nil {
		cycleCost = cost.Total
	}

	co2 := cycleKWh * s.carbonFactor
	return &Dashboard{
		OwnerID:     ownerID,
		TodayKWh:    todayKWh,
		CycleKWh:    cycleKWh,
		CycleCost:   cycleCost,
		Cycle:       cycle,
		CO2Kg:       co2,
		Trees:       co2 / 22,
		ActiveCount: len(devs),
		DeviceNames: names,
		GeneratedAt: now,
	}, nil
}
