package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

const defaultRetention = 35 * 24 * time.Hour

// Store persists metric series in RedisTimeSeries.
//
// Series creation is idempotent: a "key already exists" reply from the
// module counts as success, so concurrent first writers converge on one
// series. The store of record is always Redis itself; no created-series
// cache is kept in process.
type Store struct {
	client    *goredis.Client
	retention time.Duration
	logger    *log.Logger
}

// Option configures the store.
type Option func(*Store)

// WithRetention overrides the canonical retention horizon.
func WithRetention(retention time.Duration) Option {
	return func(s *Store) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs a store and verifies the connection.
func NewStore(client *goredis.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("timeseries store: nil client")
	}
	s := &Store{
		client:    client,
		retention: defaultRetention,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("timeseries store: ping %s: %w", addr, err)
	}
	return client, nil
}

// EnsureSeries creates the series with the canonical retention and
// last-write-wins duplicate policy if it does not exist yet. An existing
// series is left untouched so buffered data and its configuration survive.
func (s *Store) EnsureSeries(ctx context.Context, key timeseries.SeriesKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	args := []interface{}{
		"TS.CREATE", key.StoreKey(),
		"RETENTION", s.retention.Milliseconds(),
		"DUPLICATE_POLICY", "LAST",
		"LABELS",
	}
	labels := key.Labels()
	for _, name := range []string{"owner_id", "device_id", "metric"} {
		args = append(args, name, labels[name])
	}
	err := s.client.Do(ctx, args...).Err()
	if err == nil || isAlreadyExists(err) {
		return nil
	}
	return fmt.Errorf("timeseries store: create %s: %w", key.StoreKey(), err)
}

// WriteSample appends the sample's three metric points in one pipeline.
// This is the ingestion hot path: it never creates series.
func (s *Store) WriteSample(ctx context.Context, ownerID, deviceID int64, sample timeseries.Sample) error {
	pipe := s.client.Pipeline()
	for key, point := range sample.Fanout(ownerID, deviceID) {
		pipe.Do(ctx, "TS.ADD", key.StoreKey(), point.TS, point.Value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("timeseries store: write sample owner=%d device=%d: %w", ownerID, deviceID, err)
	}
	return nil
}

// Range returns the ordered points in [fromMS, toMS]. A missing series
// reads as empty: unknown devices are "no data", not an error.
func (s *Store) Range(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS int64) ([]timeseries.Point, error) {
	reply, err := s.client.Do(ctx, "TS.RANGE", key.StoreKey(), fromMS, toMS).Result()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("timeseries store: range %s: %w", key.StoreKey(), err)
	}
	return s.parsePoints(key, reply), nil
}

// RangeAvg returns per-bucket averages computed inside the store. Buckets
// are aligned to fromMS; without ALIGN the store snaps them to the epoch
// and the first bucket of a mid-bucket window collides with the second.
// Callers fall back to manual grouping when the deployment lacks
// aggregation support; the error is returned verbatim to let them decide.
func (s *Store) RangeAvg(ctx context.Context, key timeseries.SeriesKey, fromMS, toMS, bucketMS int64) ([]timeseries.Point, error) {
	reply, err := s.client.Do(ctx,
		"TS.RANGE", key.StoreKey(), fromMS, toMS,
		"ALIGN", fromMS,
		"AGGREGATION", "avg", bucketMS,
	).Result()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("timeseries store: range avg %s: %w", key.StoreKey(), err)
	}
	return s.parsePoints(key, reply), nil
}

// parsePoints decodes a TS.RANGE reply. Malformed entries are skipped
// point-by-point; a bad value must not abort a whole scan.
func (s *Store) parsePoints(key timeseries.SeriesKey, reply interface{}) []timeseries.Point {
	rows, ok := reply.([]interface{})
	if !ok {
		return nil
	}
	points := make([]timeseries.Point, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		ts, ok := toInt64(pair[0])
		if !ok {
			continue
		}
		value, ok := toFloat(pair[1])
		if !ok {
			s.logger.Printf("timeseries store: skipping non-numeric point in %s at %d", key.StoreKey(), ts)
			continue
		}
		points = append(points, timeseries.Point{TS: ts, Value: value})
	}
	return points
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case float64:
		return t, true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func isNotFound(err error) bool {
	if errors.Is(err, goredis.Nil) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "does not exist")
}
