package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BotStore persists bot configurations and lifecycle state.
type BotStore interface {
	Create(ctx context.Context, bot Bot) error
	GetByID(ctx context.Context, id string) (Bot, error)
	ListActive(ctx context.Context) ([]Bot, error)
	SetStatus(ctx context.Context, id string, status BotStatus) error
	IncrementDeals(ctx context.Context, id string, delta int) error
}

// PositionStore persists the per-bot position aggregate. Save is an
// upsert keyed by bot id; the executor commits exactly once per cycle.
type PositionStore interface {
	Get(ctx context.Context, botID string) (Position, error)
	Save(ctx context.Context, pos Position) error
}

// AuditEntry is one audit log row: what a cycle did, whether it worked,
// and a financial snapshot at the time.
type AuditEntry struct {
	ID        int64
	BotID     string
	Action    string
	Status    string // "ok" or "error"
	Detail    map[string]any
	ErrorMsg  string
	Position  float64
	AvgPrice  float64
	Deals     int
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log with a retention window
// served by the archiver.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, botID string, opts ListOpts) ([]AuditEntry, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
