package detect

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	"ecowatt-cloud/internal/observability/metrics"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// SeriesReader reads raw points for a series.
type SeriesReader interface {
	Range(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) ([]timeseries.Point, error)
}

// DeviceLister enumerates the devices to scan.
type DeviceLister interface {
	ListActive(ctx context.Context) ([]devices.Device, error)
}

// Sink receives the alerts a scan raises.
type Sink interface {
	Publish(ctx context.Context, event any) error
}

// Detector scans every active device's power series for idle drain and
// sustained peaks. A failure on one device never aborts the batch.
type Detector struct {
	reader  SeriesReader
	lister  DeviceLister
	sink    Sink
	cfg     Config
	nowFunc func() time.Time
	logger  *log.Logger
}

// NewDetector wires a detector. All three collaborators are required.
func NewDetector(reader SeriesReader, lister DeviceLister, sink Sink, cfg Config, opts ...DetectorOption) (*Detector, error) {
	if reader == nil {
		return nil, errors.New("detect: series reader is required")
	}
	if lister == nil {
		return nil, errors.New("detect: device lister is required")
	}
	if sink == nil {
		return nil, errors.New("detect: sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		reader:  reader,
		lister:  lister,
		sink:    sink,
		cfg:     cfg,
		nowFunc: time.Now,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DetectorOption customises a Detector.
type DetectorOption func(*Detector)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		if now != nil {
			d.nowFunc = now
		}
	}
}

// WithDetectorLogger overrides the default logger.
func WithDetectorLogger(logger *log.Logger) DetectorOption {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Scan runs one detection batch over all active devices.
func (d *Detector) Scan(ctx context.Context) error {
	start := d.nowFunc()
	defer func() {
		metrics.ObserveDetectorBatch(time.Since(start))
	}()

	devs, err := d.lister.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, dev := range devs {
		if err := d.scanDevice(ctx, dev); err != nil {
			d.logger.Printf("detect: device %d scan failed: %v", dev.ID, err)
			metrics.IncDetectorScan(false)
			continue
		}
		metrics.IncDetectorScan(true)
	}
	return nil
}

func (d *Detector) scanDevice(ctx context.Context, dev devices.Device) error {
	now := d.nowFunc().UTC()
	key := timeseries.SeriesKey{OwnerID: dev.OwnerID, DeviceID: dev.ID, Metric: timeseries.MetricPowerW}

	if alert, ok, err := d.idleDrain(ctx, key, dev, now); err != nil {
		return err
	} else if ok {
		if err := d.sink.Publish(ctx, alerts.Raised{Alert: alert}); err != nil {
			return err
		}
	}

	if alert, ok, err := d.sustainedPeak(ctx, key, dev, now); err != nil {
		return err
	} else if ok {
		if err := d.sink.Publish(ctx, alerts.Raised{Alert: alert}); err != nil {
			return err
		}
	}
	return nil
}

// idleDrain flags devices whose mean power inside the nocturnal UTC window
// over the lookback exceeds the idle threshold. No nocturnal samples means
// no verdict.
func (d *Detector) idleDrain(ctx context.Context, key timeseries.SeriesKey, dev devices.Device, now time.Time) (alerts.Alert, bool, error) {
	from := now.Add(-d.cfg.IdleLookback)
	points, err := d.reader.Range(ctx, key, from.UnixMilli(), now.UnixMilli())
	if err != nil {
		return alerts.Alert{}, false, err
	}

	var sum float64
	var count int
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		hour := time.UnixMilli(p.TS).UTC().Hour()
		if hour < d.cfg.NightStartHourUTC || hour >= d.cfg.NightEndHourUTC {
			continue
		}
		sum += p.Value
		count++
	}
	if count == 0 {
		return alerts.Alert{}, false, nil
	}
	mean := sum / float64(count)
	if mean <= d.cfg.IdleThresholdW {
		return alerts.Alert{}, false, nil
	}
	return alerts.Alert{
		DeviceID:   dev.ID,
		OwnerID:    dev.OwnerID,
		DeviceName: dev.Name,
		Kind:       alerts.KindIdleDrain,
		MagnitudeW: mean,
		RaisedAt:   now,
	}, true, nil
}

// sustainedPeak reports the first run of consecutive samples above the peak
// threshold that spans at least the minimum duration inside the lookback.
// Malformed values break a run the same way a sub-threshold sample does.
func (d *Detector) sustainedPeak(ctx context.Context, key timeseries.SeriesKey, dev devices.Device, now time.Time) (alerts.Alert, bool, error) {
	from := now.Add(-d.cfg.PeakLookback)
	points, err := d.reader.Range(ctx, key, from.UnixMilli(), now.UnixMilli())
	if err != nil {
		return alerts.Alert{}, false, err
	}

	var runStart, runEnd int64 = -1, -1
	var runMax float64
	qualifies := func() bool {
		return runStart >= 0 && runEnd-runStart >= d.cfg.PeakMinDuration.Milliseconds()
	}
	raise := func() alerts.Alert {
		return alerts.Alert{
			DeviceID:   dev.ID,
			OwnerID:    dev.OwnerID,
			DeviceName: dev.Name,
			Kind:       alerts.KindSustainedPeak,
			MagnitudeW: runMax,
			RaisedAt:   now,
		}
	}
	for _, p := range points {
		bad := math.IsNaN(p.Value) || math.IsInf(p.Value, 0)
		if bad || p.Value <= d.cfg.PeakThresholdW {
			// Run ends here; only now is its full duration and maximum known.
			if qualifies() {
				return raise(), true, nil
			}
			runStart, runEnd = -1, -1
			runMax = 0
			continue
		}
		if runStart < 0 {
			runStart = p.TS
			runMax = p.Value
		} else if p.Value > runMax {
			runMax = p.Value
		}
		runEnd = p.TS
	}
	if qualifies() {
		return raise(), true, nil
	}
	return alerts.Alert{}, false, nil
}
