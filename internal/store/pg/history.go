// Package pg is the Postgres-backed history store, used when a DSN is
// configured. Schema creation is idempotent; no migration tooling.
package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS session_messages (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	message    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_session_messages_session
	ON session_messages(session_id, id);
`

// History implements store.HistoryStore on Postgres.
type History struct {
	db *sql.DB
}

// Open connects via the pgx stdlib driver and ensures the schema.
func Open(dsn string) (*History, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

func (h *History) Append(sessionID string, m providers.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = h.db.Exec(
		`INSERT INTO session_messages (session_id, message) VALUES ($1, $2)`,
		sessionID, data)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (h *History) Load(sessionID string) ([]providers.Message, error) {
	rows, err := h.db.Query(
		`SELECT message FROM session_messages WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []providers.Message
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return msgs, fmt.Errorf("scan message: %w", err)
		}
		var m providers.Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return msgs, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

func (h *History) Delete(sessionID string) error {
	if _, err := h.db.Exec(
		`DELETE FROM session_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
