// Package domain holds the core types shared across the send engine:
// newsletters and their lifecycle state machine, per-recipient deliveries,
// the append-only campaign event log, and contact/audience records.
//
// Types here carry no I/O. The lifecycle rules in lifecycle.go are pure
// functions so every caller (handlers, cron, tests) applies identical
// transition semantics.
package domain
