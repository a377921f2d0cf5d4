package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Poll state (the active poll survives restarts)
//   - Dedup records for one-time notifications
//   - Runtime schedule settings (overrides over file config)
