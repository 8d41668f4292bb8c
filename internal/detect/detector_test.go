package detect

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

type fakeReader struct {
	points map[timeseries.SeriesKey][]timeseries.Point
	err    error
}

func (f *fakeReader) Range(_ context.Context, key timeseries.SeriesKey, fromMS, toMS int64) ([]timeseries.Point, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []timeseries.Point
	for _, p := range f.points[key] {
		if p.TS >= fromMS && p.TS <= toMS {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeLister struct {
	devs []devices.Device
}

func (f *fakeLister) ListActive(context.Context) ([]devices.Device, error) {
	return f.devs, nil
}

type captureSink struct {
	events []any
}

func (c *captureSink) Publish(_ context.Context, event any) error {
	c.events = append(c.events, event)
	return nil
}

var scanNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, reader *fakeReader, lister *fakeLister, sink *captureSink) *Detector {
	t.Helper()
	d, err := NewDetector(reader, lister, sink, DefaultConfig(), WithClock(func() time.Time { return scanNow }))
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	return d
}

func powerKey(dev devices.Device) timeseries.SeriesKey {
	return timeseries.SeriesKey{OwnerID: dev.OwnerID, DeviceID: dev.ID, Metric: timeseries.MetricPowerW}
}

func TestIdleDrainRaisedForNocturnalMeanAboveThreshold(t *testing.T) {
	dev := devices.Device{ID: 7, OwnerID: 3, Name: "fridge", Active: true}
	// Samples at 08:00 UTC, inside the 7-11 window, averaging 25 W.
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	var pts []timeseries.Point
	for i := 0; i < 10; i++ {
		pts = append(pts, timeseries.Point{TS: base.Add(time.Duration(i) * time.Minute).UnixMilli(), Value: 25})
	}
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(dev): pts}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	raised, ok := sink.events[0].(alerts.Raised)
	if !ok {
		t.Fatalf("event type = %T", sink.events[0])
	}
	if raised.Alert.Kind != alerts.KindIdleDrain {
		t.Fatalf("kind = %q, want idle_drain", raised.Alert.Kind)
	}
	if raised.Alert.MagnitudeW != 25 {
		t.Fatalf("magnitude = %v, want 25", raised.Alert.MagnitudeW)
	}
}

func TestIdleDrainSkippedWithoutNocturnalSamples(t *testing.T) {
	dev := devices.Device{ID: 7, OwnerID: 3, Name: "fridge", Active: true}
	// 14:00 UTC is outside the nocturnal window.
	ts := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC).UnixMilli()
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{
		powerKey(dev): {{TS: ts, Value: 500}},
	}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %d, want 0", len(sink.events))
	}
}

func TestSustainedPeakRaisedForSixMinuteRun(t *testing.T) {
	dev := devices.Device{ID: 9, OwnerID: 3, Name: "heater", Active: true}
	base := scanNow.Add(-time.Hour)
	var pts []timeseries.Point
	for i := 0; i <= 6; i++ {
		pts = append(pts, timeseries.Point{TS: base.Add(time.Duration(i) * time.Minute).UnixMilli(), Value: 1600})
	}
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(dev): pts}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	raised := sink.events[0].(alerts.Raised)
	if raised.Alert.Kind != alerts.KindSustainedPeak {
		t.Fatalf("kind = %q, want sustained_peak", raised.Alert.Kind)
	}
	if raised.Alert.MagnitudeW != 1600 {
		t.Fatalf("magnitude = %v, want 1600", raised.Alert.MagnitudeW)
	}
}

func TestSustainedPeakMagnitudeCoversWholeRun(t *testing.T) {
	dev := devices.Device{ID: 9, OwnerID: 3, Name: "heater", Active: true}
	base := scanNow.Add(-time.Hour)
	// Five minutes at 1600 W, then a 2500 W spike before the run breaks.
	pts := []timeseries.Point{
		{TS: base.UnixMilli(), Value: 1600},
		{TS: base.Add(2 * time.Minute).UnixMilli(), Value: 1600},
		{TS: base.Add(5 * time.Minute).UnixMilli(), Value: 1600},
		{TS: base.Add(6 * time.Minute).UnixMilli(), Value: 2500},
		{TS: base.Add(7 * time.Minute).UnixMilli(), Value: 100},
	}
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(dev): pts}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	raised := sink.events[0].(alerts.Raised)
	if raised.Alert.MagnitudeW != 2500 {
		t.Fatalf("magnitude = %v, want the run maximum 2500", raised.Alert.MagnitudeW)
	}
}

func TestSustainedPeakIgnoresShortRuns(t *testing.T) {
	dev := devices.Device{ID: 9, OwnerID: 3, Name: "heater", Active: true}
	base := scanNow.Add(-time.Hour)
	// Two minutes above threshold, then a dip, then two more minutes.
	pts := []timeseries.Point{
		{TS: base.UnixMilli(), Value: 1600},
		{TS: base.Add(1 * time.Minute).UnixMilli(), Value: 1600},
		{TS: base.Add(2 * time.Minute).UnixMilli(), Value: 200},
		{TS: base.Add(3 * time.Minute).UnixMilli(), Value: 1600},
		{TS: base.Add(4 * time.Minute).UnixMilli(), Value: 1600},
	}
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(dev): pts}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %d, want 0", len(sink.events))
	}
}

func TestSustainedPeakRunBrokenByMalformedValue(t *testing.T) {
	dev := devices.Device{ID: 9, OwnerID: 3, Name: "heater", Active: true}
	base := scanNow.Add(-time.Hour)
	pts := []timeseries.Point{
		{TS: base.UnixMilli(), Value: 1600},
		{TS: base.Add(2 * time.Minute).UnixMilli(), Value: math.NaN()},
		{TS: base.Add(4 * time.Minute).UnixMilli(), Value: 1600},
		{TS: base.Add(6 * time.Minute).UnixMilli(), Value: 1600},
	}
	reader := &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(dev): pts}}
	sink := &captureSink{}
	d := newTestDetector(t, reader, &fakeLister{devs: []devices.Device{dev}}, sink)

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %d, want 0", len(sink.events))
	}
}

func TestScanIsolatesPerDeviceFailures(t *testing.T) {
	bad := devices.Device{ID: 1, OwnerID: 3, Name: "bad", Active: true}
	good := devices.Device{ID: 2, OwnerID: 3, Name: "good", Active: true}
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	goodPts := []timeseries.Point{
		{TS: base.UnixMilli(), Value: 30},
		{TS: base.Add(time.Minute).UnixMilli(), Value: 30},
	}
	reader := &failingReader{
		failFor: powerKey(bad),
		inner:   &fakeReader{points: map[timeseries.SeriesKey][]timeseries.Point{powerKey(good): goodPts}},
	}
	sink := &captureSink{}
	d, err := NewDetector(reader, &fakeLister{devs: []devices.Device{bad, good}}, sink, DefaultConfig(),
		WithClock(func() time.Time { return scanNow }))
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	if err := d.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1 from the healthy device", len(sink.events))
	}
	if got := sink.events[0].(alerts.Raised).Alert.DeviceID; got != good.ID {
		t.Fatalf("device id = %d, want %d", got, good.ID)
	}
}

type failingReader struct {
	failFor timeseries.SeriesKey
	inner   *fakeReader
}

func (f *failingReader) Range(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) ([]timeseries.Point, error) {
	if key == f.failFor {
		return nil, errors.New("read refused")
	}
	return f.inner.Range(ctx, key, fromMS, toMS)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.NightEndHourUTC = cfg.NightStartHourUTC
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty nocturnal window")
	}
}
