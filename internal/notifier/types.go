package notifier

import (
	"context"
	"time"
)

// ParseModeMarkdown is the parse mode used for every alert.
const ParseModeMarkdown = "Markdown"

// Sender is the outbound message transport. SendText must return once ctx is
// done; Config.SendTimeout relies on it.
type Sender interface {
	SendText(ctx context.Context, chatID, text, parseMode string) error
}

// Config controls delivery pacing and duplicate suppression.
type Config struct {
	RatePerSec      float64
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Event is the payload published on the bus for delivery outcomes.
type Event struct {
	RecipientID string    `json:"recipient_id"`
	Key         string    `json:"key,omitempty"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}
