package domain

import (
	"context"
	"time"
)

// TriggerStore holds the active TriggerRecords. Implementations must make
// Claim and Remove atomic with respect to each other.
type TriggerStore interface {
	// Claim inserts rec if no record exists for rec.Token. It returns false
	// when another record is already active.
	Claim(ctx context.Context, rec TriggerRecord) (bool, error)
	// Get returns the active record for token or ErrNotFound.
	Get(ctx context.Context, token string) (TriggerRecord, error)
	// Remove deletes the record for rec.Token only if its nonce matches. It
	// returns false when nothing was removed.
	Remove(ctx context.Context, rec TriggerRecord) (bool, error)
	// List returns every active record.
	List(ctx context.Context) ([]TriggerRecord, error)
}

// RecipientDirectory reports which recipients currently hold a position in a
// ticker.
type RecipientDirectory interface {
	HoldersOf(ctx context.Context, ticker string) ([]string, error)
}

// Triggerer starts work for one recipient on an external endpoint.
type Triggerer interface {
	StartWork(ctx context.Context, req TriggerRequest) error
}

// ResultStore reports whether a recipient produced a result after since.
type ResultStore interface {
	HasResultSince(ctx context.Context, recipientID string, since time.Time) (bool, error)
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
