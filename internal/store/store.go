// Package store persists session history and user profiles. The default
// backend is append-only JSONL files; a Postgres backend is selected when a
// DSN is configured.
package store

import "github.com/Miosa-osa/OSA-sub005/internal/providers"

// HistoryStore checkpoints session message history and replays it on resume.
type HistoryStore interface {
	Append(sessionID string, m providers.Message) error
	Load(sessionID string) ([]providers.Message, error)
	Delete(sessionID string) error
}
