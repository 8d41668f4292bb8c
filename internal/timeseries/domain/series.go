package timeseries

import (
	"errors"
	"fmt"
)

// Metric identifies one of the measured electrical quantities.
type Metric string

const (
	MetricPowerW   Metric = "power_w"
	MetricVoltageV Metric = "voltage_v"
	MetricCurrentA Metric = "current_a"
)

// Metrics lists every metric a sample fans out into.
var Metrics = []Metric{MetricPowerW, MetricVoltageV, MetricCurrentA}

// ErrInvalidKey is returned when a series key misses a component.
var ErrInvalidKey = errors.New("timeseries: invalid series key")

// IsValid reports whether the metric is one of the supported quantities.
func (m Metric) IsValid() bool {
	switch m {
	case MetricPowerW, MetricVoltageV, MetricCurrentA:
		return true
	default:
		return false
	}
}

// SeriesKey identifies one time series: (owner, device, metric).
type SeriesKey struct {
	OwnerID  int64
	DeviceID int64
	Metric   Metric
}

// Validate checks key invariants.
func (k SeriesKey) Validate() error {
	if k.OwnerID <= 0 || k.DeviceID <= 0 {
		return ErrInvalidKey
	}
	if !k.Metric.IsValid() {
		return ErrInvalidKey
	}
	return nil
}

// StoreKey returns the key string used in the backing store.
func (k SeriesKey) StoreKey() string {
	return fmt.Sprintf("ts:user:%d:device:%d:%s", k.OwnerID, k.DeviceID, k.Metric)
}

// Labels returns the discovery labels attached at series creation.
func (k SeriesKey) Labels() map[string]string {
	return map[string]string{
		"owner_id":  fmt.Sprintf("%d", k.OwnerID),
		"device_id": fmt.Sprintf("%d", k.DeviceID),
		"metric":    string(k.Metric),
	}
}

// Point is a single (timestamp, value) measurement in a series.
// Timestamps are unix milliseconds.
type Point struct {
	TS    int64
	Value float64
}

// Sample is one atomically ingested reading from a smart plug.
type Sample struct {
	TS       int64
	PowerW   float64
	VoltageV float64
	CurrentA float64
}

// metricValue maps a sample field onto its metric series.
func (s Sample) metricValue(m Metric) float64 {
	switch m {
	case MetricPowerW:
		return s.PowerW
	case MetricVoltageV:
		return s.VoltageV
	case MetricCurrentA:
		return s.CurrentA
	default:
		return 0
	}
}

// Fanout returns the per-metric point writes this sample expands into.
// All three points share the sample timestamp: each metric lives in its
// own series so same-instant writes cannot collide across metrics, and
// the store's last-write-wins policy resolves collisions within one.
func (s Sample) Fanout(ownerID, deviceID int64) map[SeriesKey]Point {
	out := make(map[SeriesKey]Point, len(Metrics))
	for _, m := range Metrics {
		key := SeriesKey{OwnerID: ownerID, DeviceID: deviceID, Metric: m}
		out[key] = Point{TS: s.TS, Value: s.metricValue(m)}
	}
	return out
}
