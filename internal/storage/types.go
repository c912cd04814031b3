package storage

import (
	"context"
	"errors"
	"time"

	"impfwatch/internal/registry"
)

var ErrDisabled = errors.New("storage disabled")

// Store is the persistence API used by the app, the CLI and the notifier.
type Store interface {
	// LoadRegions returns the persisted registry in order. A store that was
	// never written returns an empty slice and no error.
	LoadRegions(ctx context.Context) ([]registry.Region, error)
	// SaveRegions replaces the persisted registry.
	SaveRegions(ctx context.Context, regions []registry.Region) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON registry document plus jsonl sidecars (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionSubscriberAdd    = "subscriber.add"
	ActionSubscriberRemove = "subscriber.remove"
)

// AuditEntry records a registry mutation. Keep it compact and schema-stable.
type AuditEntry struct {
	At           time.Time `json:"at"`
	Actor        string    `json:"actor"` // "cli" | "admin"
	Action       string    `json:"action"`
	Region       string    `json:"region,omitempty"`
	SubscriberID string    `json:"subscriber_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Count        int       `json:"count"`
}
