package budget

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS charges (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TEXT NOT NULL,
	provider       TEXT NOT NULL,
	model          TEXT NOT NULL,
	tokens_in      INTEGER NOT NULL,
	tokens_out     INTEGER NOT NULL,
	estimated_cost REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_charges_ts ON charges(ts);
`

// Ledger persists charges to sqlite so counters survive restarts.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open budget ledger: %w", err)
	}
	// Single writer; the sqlite driver serialises anyway but this keeps
	// lock contention errors out of the hot path.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init budget ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Append inserts one charge.
func (l *Ledger) Append(c Charge) error {
	_, err := l.db.Exec(
		`INSERT INTO charges (ts, provider, model, tokens_in, tokens_out, estimated_cost)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Timestamp.UTC().Format(time.RFC3339Nano),
		c.Provider, c.Model, c.TokensIn, c.TokensOut, c.EstimatedCost,
	)
	if err != nil {
		return fmt.Errorf("append charge: %w", err)
	}
	return nil
}

// WindowTotals sums the spend for the UTC day and month containing now.
func (l *Ledger) WindowTotals(now time.Time) (daily, monthly float64, err error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	row := l.db.QueryRow(
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM charges WHERE ts >= ?`,
		dayStart.Format(time.RFC3339Nano))
	if err = row.Scan(&daily); err != nil {
		return 0, 0, fmt.Errorf("sum daily charges: %w", err)
	}

	row = l.db.QueryRow(
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM charges WHERE ts >= ?`,
		monthStart.Format(time.RFC3339Nano))
	if err = row.Scan(&monthly); err != nil {
		return 0, 0, fmt.Errorf("sum monthly charges: %w", err)
	}
	return daily, monthly, nil
}

// Prune deletes charges older than the retention window.
func (l *Ledger) Prune(olderThan time.Time) error {
	_, err := l.db.Exec(`DELETE FROM charges WHERE ts < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("prune charges: %w", err)
	}
	return nil
}
