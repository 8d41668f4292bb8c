package alerts

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the consumption patterns an alert can report.
type Kind string

const (
	KindIdleDrain     Kind = "idle_drain"
	KindSustainedPeak Kind = "sustained_peak"
)

// Valid reports whether the kind is supported.
func (k Kind) Valid() bool {
	switch k {
	case KindIdleDrain, KindSustainedPeak:
		return true
	default:
		return false
	}
}

// Alert is one detected consumption anomaly. Immutable once created.
type Alert struct {
	DeviceID   int64     `json:"device_id"`
	OwnerID    int64     `json:"owner_id"`
	DeviceName string    `json:"device_name"`
	Kind       Kind      `json:"kind"`
	MagnitudeW float64   `json:"magnitude_w"`
	RaisedAt   time.Time `json:"raised_at"`
}

// Validate checks alert invariants.
func (a Alert) Validate() error {
	if a.DeviceID <= 0 || a.OwnerID <= 0 {
		return errors.New("alerts: missing device or owner")
	}
	if !a.Kind.Valid() {
		return errors.New("alerts: invalid kind")
	}
	if a.RaisedAt.IsZero() {
		return errors.New("alerts: zero timestamp")
	}
	return nil
}

// Value is the magnitude formatted the way downstream consumers store
// and display it.
func (a Alert) Value() string {
	return fmt.Sprintf("%.2fW", a.MagnitudeW)
}

// Raised is the event published when the detector emits an alert.
type Raised struct {
	Alert Alert
}
