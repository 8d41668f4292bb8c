package tariff

import (
	"errors"
	"math"
)

var (
	// ErrNoTiers is returned when a schedule carries no tiers.
	ErrNoTiers = errors.New("tariff: schedule has no tiers")
	// ErrTiersNotContiguous is returned when tier bounds overlap or gap.
	ErrTiersNotContiguous = errors.New("tariff: tiers must be contiguous and non-overlapping")
	// ErrNegativeConsumption is returned for negative kWh input.
	ErrNegativeConsumption = errors.New("tariff: negative consumption")
)

// Tier is a contiguous kWh band priced at a single unit rate. The top
// tier of a schedule is unbounded: UpperKWh is +Inf.
type Tier struct {
	Name        string
	LowerKWh    float64
	UpperKWh    float64
	PricePerKWh float64
}

// Capacity returns the kWh this tier can absorb.
func (t Tier) Capacity() float64 {
	return t.UpperKWh - t.LowerKWh
}

// Schedule is an ordered tier list plus an optional fixed monthly charge.
type Schedule struct {
	RateCode    string
	Tiers       []Tier
	FixedCharge float64
}

// Validate checks that tiers ascend contiguously without overlap.
func (s Schedule) Validate() error {
	if len(s.Tiers) == 0 {
		return ErrNoTiers
	}
	expectedLower := s.Tiers[0].LowerKWh
	for _, tier := range s.Tiers {
		if tier.LowerKWh != expectedLower || tier.UpperKWh <= tier.LowerKWh {
			return ErrTiersNotContiguous
		}
		expectedLower = tier.UpperKWh
	}
	return nil
}

// Line is the cost contribution of one tier.
type Line struct {
	Name        string  `json:"name"`
	KWh         float64 `json:"kwh"`
	PricePerKWh float64 `json:"price_per_kwh"`
	Subtotal    float64 `json:"subtotal"`
}

// Cost is the monetary breakdown of a consumption quantity.
type Cost struct {
	FixedCharge float64 `json:"fixed_charge"`
	Energy      float64 `json:"energy"`
	Total       float64 `json:"total"`
	Lines       []Line  `json:"lines"`
}

// ComputeCost prices totalKWh against the schedule: the fixed charge
// applies first, then tiers are walked in ascending order, each consuming
// min(remaining, capacity) at its unit price. Zero consumption costs
// exactly the fixed charge.
func ComputeCost(totalKWh float64, schedule Schedule) (Cost, error) {
	if totalKWh < 0 {
		return Cost{}, ErrNegativeConsumption
	}
	if err := schedule.Validate(); err != nil {
		return Cost{}, err
	}

	cost := Cost{FixedCharge: schedule.FixedCharge, Total: schedule.FixedCharge}
	remaining := totalKWh
	for _, tier := range schedule.Tiers {
		if remaining <= 0 {
			break
		}
		kwh := math.Min(remaining, tier.Capacity())
		subtotal := kwh * tier.PricePerKWh
		cost.Lines = append(cost.Lines, Line{
			Name:        tier.Name,
			KWh:         kwh,
			PricePerKWh: tier.PricePerKWh,
			Subtotal:    subtotal,
		})
		cost.Energy += subtotal
		cost.Total += subtotal
		remaining -= kwh
	}
	return cost, nil
}
