package detect

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the detection thresholds. Defaults mirror the production
// tuning; a YAML file referenced by DETECT_CONFIG overrides them.
type Config struct {
	IdleThresholdW    float64       `yaml:"idle_threshold_w"`
	NightStartHourUTC int           `yaml:"night_start_hour_utc"`
	NightEndHourUTC   int           `yaml:"night_end_hour_utc"`
	PeakThresholdW    float64       `yaml:"peak_threshold_w"`
	PeakMinDuration   time.Duration `yaml:"peak_min_duration"`
	PeakLookback      time.Duration `yaml:"peak_lookback"`
	IdleLookback      time.Duration `yaml:"idle_lookback"`
}

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() Config {
	return Config{
		IdleThresholdW:    20,
		NightStartHourUTC: 7,
		NightEndHourUTC:   11,
		PeakThresholdW:    1500,
		PeakMinDuration:   5 * time.Minute,
		PeakLookback:      3 * time.Hour,
		IdleLookback:      24 * time.Hour,
	}
}

// LoadConfig loads thresholds, starting from defaults and overlaying the
// YAML file named by DETECT_CONFIG when present.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("DETECT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks threshold invariants.
func (c Config) Validate() error {
	if c.IdleThresholdW < 0 || c.PeakThresholdW <= 0 {
		return errors.New("detect: thresholds must be positive")
	}
	if c.NightStartHourUTC < 0 || c.NightStartHourUTC > 23 ||
		c.NightEndHourUTC < 0 || c.NightEndHourUTC > 24 ||
		c.NightEndHourUTC <= c.NightStartHourUTC {
		return errors.New("detect: invalid nocturnal hour window")
	}
	if c.PeakMinDuration <= 0 || c.PeakLookback <= 0 || c.IdleLookback <= 0 {
		return errors.New("detect: durations must be positive")
	}
	return nil
}
