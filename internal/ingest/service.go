package ingest

import (
	"context"
	"errors"
	"log"

	devices "ecowatt-cloud/internal/devices/domain"
	"ecowatt-cloud/internal/observability/metrics"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// SeriesStore is the slice of the series store ingestion needs.
type SeriesStore interface {
	EnsureSeries(ctx context.Context, key timeseries.SeriesKey) error
	WriteSample(ctx context.Context, ownerID, deviceID int64, sample timeseries.Sample) error
}

// DeviceDirectory resolves reporting hardware to registered devices.
type DeviceDirectory interface {
	ByMAC(ctx context.Context, mac string) (devices.Device, error)
}

// Service accepts telemetry samples and lands them in the series store.
// Ingestion is fire-and-forget: a store fault is logged and counted, never
// returned to the reporting device.
type Service struct {
	store     SeriesStore
	directory DeviceDirectory
	logger    *log.Logger
}

// NewService wires the ingestion service.
func NewService(store SeriesStore, directory DeviceDirectory, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("ingest: series store is required")
	}
	if directory == nil {
		return nil, errors.New("ingest: device directory is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, directory: directory, logger: logger}, nil
}

// ProcessSample resolves the reporting MAC and writes the sample's three
// metric points. Unregistered or inactive devices are dropped.
func (s *Service) ProcessSample(ctx context.Context, mac string, sample timeseries.Sample) {
	mac = devices.NormalizeMAC(mac)
	if mac == "" {
		s.logger.Printf("ingest: sample without mac dropped")
		metrics.IncIngestDropped("missing_mac")
		return
	}

	dev, err := s.directory.ByMAC(ctx, mac)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			s.logger.Printf("ingest: unregistered device %s dropped", mac)
			metrics.IncIngestDropped("unregistered")
		} else {
			s.logger.Printf("ingest: device lookup for %s failed: %v", mac, err)
			metrics.IncIngestDropped("lookup_failed")
		}
		return
	}
	if !dev.Active {
		s.logger.Printf("ingest: inactive device %s dropped", mac)
		metrics.IncIngestDropped("inactive")
		return
	}

	for key := range sample.Fanout(dev.OwnerID, dev.ID) {
		if err := s.store.EnsureSeries(ctx, key); err != nil {
			s.logger.Printf("ingest: ensure %s failed: %v", key.StoreKey(), err)
			metrics.IncSeriesWriteFailure()
			metrics.IncIngestSample(false)
			return
		}
	}

	if err := s.store.WriteSample(ctx, dev.OwnerID, dev.ID, sample); err != nil {
		s.logger.Printf("ingest: write for device %d failed: %v", dev.ID, err)
		metrics.IncSeriesWriteFailure()
		metrics.IncIngestSample(false)
		return
	}
	metrics.IncIngestSample(true)
}
