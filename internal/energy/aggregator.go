package energy

import (
	"context"
	"errors"
	"fmt"
	"time"

	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

const defaultMaxGap = 15 * time.Minute

// SeriesReader is the read side of the series store.
type SeriesReader interface {
	Range(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) ([]timeseries.Point, error)
	RangeAvg(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS, bucketMS int64) ([]timeseries.Point, error)
}

// Bucket is one slot of a bucketed rollup.
type Bucket struct {
	StartMS int64
	KWh     float64
}

// Aggregator converts instantaneous power samples into energy.
type Aggregator struct {
	reader SeriesReader
	maxGap time.Duration
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithMaxGap overrides the silence threshold beyond which an interval
// contributes no energy.
func WithMaxGap(gap time.Duration) Option {
	return func(a *Aggregator) {
		if gap > 0 {
			a.maxGap = gap
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(reader SeriesReader, opts ...Option) (*Aggregator, error) {
	if reader == nil {
		return nil, errors.New("energy: nil series reader")
	}
	a := &Aggregator{reader: reader, maxGap: defaultMaxGap}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Integrate computes the energy in kWh consumed over [fromMS, toMS] by
// trapezoidal integration of the power series. Adjacent samples further
// apart than the max gap are treated as an outage: the interval adds
// zero energy instead of interpolating across the silence.
func (a *Aggregator) Integrate(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) (float64, error) {
	points, err := a.reader.Range(ctx, key, fromMS, toMS)
	if err != nil {
		return 0, fmt.Errorf("energy: integrate %s: %w", key.StoreKey(), err)
	}
	if len(points) < 2 {
		return 0, nil
	}

	maxGapMS := a.maxGap.Milliseconds()
	var wattSeconds float64
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		gapMS := cur.TS - prev.TS
		if gapMS <= 0 || gapMS > maxGapMS {
			continue
		}
		avgWatts := (prev.Value + cur.Value) / 2
		wattSeconds += avgWatts * float64(gapMS) / 1000
	}
	return wattSeconds / 3_600_000, nil
}

// BucketedAverage rolls the power series into fixed-size buckets of
// average power converted to kWh. The store's native aggregation is used
// when available; otherwise points are grouped manually. The result
// always carries the full bucket axis: empty buckets report zero so
// charts render without gaps.
func (a *Aggregator) BucketedAverage(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS, bucketMS int64) ([]Bucket, error) {
	if bucketMS <= 0 {
		return nil, errors.New("energy: bucket size must be positive")
	}
	if toMS <= fromMS {
		return nil, errors.New("energy: empty time range")
	}

	averages, err := a.reader.RangeAvg(ctx, key, fromMS, toMS, bucketMS)
	if err != nil {
		averages, err = a.manualAverages(ctx, key, fromMS, toMS, bucketMS)
		if err != nil {
			return nil, fmt.Errorf("energy: bucketed average %s: %w", key.StoreKey(), err)
		}
	}

	byStart := make(map[int64]float64, len(averages))
	for _, p := range averages {
		byStart[normalizeBucket(p.TS, fromMS, bucketMS)] = p.Value
	}

	count := (toMS - fromMS + bucketMS - 1) / bucketMS
	bucketHours := float64(bucketMS) / float64(3600*1000)
	out := make([]Bucket, 0, count)
	for start := fromMS; start < toMS; start += bucketMS {
		avgWatts := byStart[start]
		out = append(out, Bucket{
			StartMS: start,
			KWh:     avgWatts * bucketHours / 1000,
		})
	}
	return out, nil
}

// manualAverages is the fallback grouping for stores without native
// time-bucket aggregation.
func (a *Aggregator) manualAverages(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS, bucketMS int64) ([]timeseries.Point, error) {
	points, err := a.reader.Range(ctx, key, fromMS, toMS)
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum   float64
		count int
	}
	groups := make(map[int64]*acc)
	for _, p := range points {
		start := normalizeBucket(p.TS, fromMS, bucketMS)
		g, ok := groups[start]
		if !ok {
			g = &acc{}
			groups[start] = g
		}
		g.sum += p.Value
		g.count++
	}

	out := make([]timeseries.Point, 0, len(groups))
	for start, g := range groups {
		out = append(out, timeseries.Point{TS: start, Value: g.sum / float64(g.count)})
	}
	return out, nil
}

// normalizeBucket aligns a timestamp onto the bucket grid anchored at fromMS.
func normalizeBucket(ts, fromMS, bucketMS int64) int64 {
	if ts < fromMS {
		return fromMS
	}
	return fromMS + ((ts-fromMS)/bucketMS)*bucketMS
}
