// Package storage is the bot's small system of record.
//
// It holds:
//   - Named record sets of deal rows ("deals", "filled", "interest"), which
//     startup recovery diffs to re-arm reminders
//   - An append-only audit log of operator actions (/assign, /recover)
//
// Two drivers exist: "file" (JSON Lines per set, no dependencies) and
// "sqlite" (a single database file).
package storage
