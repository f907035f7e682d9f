package turnstile

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"
)

//go:embed schema.sql
var journalSchema string

// Outcomes recorded in the journal for each executed command.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// JournalEntry is one executed command as recorded in the journal. Entries
// include unknown-op skips and failed target calls; the journal is the
// harness's audit trail of everything the counter advanced past.
type JournalEntry struct {
	RunID      string    `json:"run_id"`
	Category   string    `json:"category"`
	Seq        uint64    `json:"seq"`
	Op         string    `json:"op"`
	Params     Params    `json:"params"`
	Outcome    string    `json:"outcome"`
	LatencyUS  int64     `json:"latency_us"`
	ExecutedAt time.Time `json:"executed_at"`
}

// journal is the SQLite-backed record of executed commands. Pending
// commands are never persisted; a restart loses the buffer by design.
type journal struct {
	db    *sql.DB
	runID string
}

func newJournal(db *sql.DB, runID string) (*journal, error) {
	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("create journal tables: %w", err)
	}
	return &journal{db: db, runID: runID}, nil
}

// record appends one executed command. Params are stored as JSON.
func (j *journal) record(category string, cmd Command, outcome string, latency time.Duration) error {
	params, err := json.Marshal(cmd.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = j.db.Exec(
		`INSERT INTO journal (run_id, category, seq, op, params, outcome, latency_us, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, category, cmd.Seq, cmd.Name, string(params), outcome,
		latency.Microseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// entries returns the journal rows for a category in execution order.
func (j *journal) entries(category string) ([]JournalEntry, error) {
	rows, err := j.db.Query(
		`SELECT run_id, seq, op, params, outcome, latency_us, executed_at
		 FROM journal WHERE category = ? ORDER BY id`,
		category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []JournalEntry
	for rows.Next() {
		e := JournalEntry{Category: category}
		var params, executedAt string
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Op, &params, &e.Outcome, &e.LatencyUS, &executedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for seq %d: %w", e.Seq, err)
		}
		e.ExecutedAt, err = time.Parse(time.RFC3339Nano, executedAt)
		if err != nil {
			return nil, fmt.Errorf("parse executed_at for seq %d: %w", e.Seq, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// count returns the total number of executed commands across all
// categories.
func (j *journal) count() (int64, error) {
	var n int64
	err := j.db.QueryRow(`SELECT COUNT(*) FROM journal`).Scan(&n)
	return n, err
}
