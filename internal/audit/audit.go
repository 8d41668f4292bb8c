package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Entry is one recorded control-plane action: who did what to which plug,
// from where, with what outcome. Entries are append-only.
type Entry struct {
	ID            string
	UserID        int64
	Actor         string
	Role          string
	Action        string
	DeviceID      int64
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger records entries. Implementations must never fail the action they
// are auditing; callers treat Log errors as advisory.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

func newID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}

// digest fingerprints the metadata so tampering with a stored entry is
// detectable without re-reading the payload.
func digest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
