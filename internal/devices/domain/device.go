package devices

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a device lookup misses.
var ErrNotFound = errors.New("devices: not found")

// Device is a registered smart plug.
type Device struct {
	ID         int64
	OwnerID    int64
	MAC        string
	Name       string
	Active     bool
	BillingDay int
	RateCode   string
	CreatedAt  time.Time
}

// NormalizeMAC canonicalizes a hardware id for lookups and topics:
// lowercase hex with separator characters removed.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	mac = strings.ReplaceAll(mac, ":", "")
	return strings.ReplaceAll(mac, "-", "")
}
