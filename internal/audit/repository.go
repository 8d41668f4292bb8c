package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists entries in the audit_logs table.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db; a nil db yields a nil repository, which callers
// treat as auditing disabled.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log inserts one entry, filling in the id, timestamp, and metadata digest
// when the caller left them empty.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit: repository not configured")
	}
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = digest(entry.Metadata)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, user_id, actor, role, action, device_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, entry.ID, entry.UserID, entry.Actor, entry.Role, entry.Action, entry.DeviceID,
		entry.Metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}
