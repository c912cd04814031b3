// Package notifier delivers alert messages to individual subscribers.
//
// Delivery is synchronous and best-effort: each Send is paced by a token
// bucket, bounded by a per-send timeout and never retried. Failures are
// logged and published on the event bus but never returned to the caller.
//
// # Duplicate suppression
//
// With a positive dedup window, an identical (recipient, text) pair is sent
// at most once per window. Windows can optionally be persisted in storage so
// they survive restarts.
package notifier
