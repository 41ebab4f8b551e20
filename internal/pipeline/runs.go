package pipeline

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/internal/database"
	"github.com/kabuscan/kabuscan/internal/scoring"
)

// ErrNoRuns indicates the run history is empty.
var ErrNoRuns = errors.New("no scoring runs recorded")

const runSchema = `
CREATE TABLE IF NOT EXISTS scoring_runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	data_end TEXT NOT NULL,
	metric TEXT NOT NULL,
	strategy TEXT NOT NULL,
	degraded INTEGER NOT NULL,
	skipped INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS scoring_entries (
	run_id TEXT NOT NULL REFERENCES scoring_runs(id) ON DELETE CASCADE,
	rank INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	final REAL NOT NULL,
	prediction REAL NOT NULL,
	fundamental REAL NOT NULL,
	risk REAL NOT NULL,
	PRIMARY KEY (run_id, rank)
);
CREATE INDEX IF NOT EXISTS idx_scoring_runs_created ON scoring_runs(created_at DESC);
`

// RunRecord is the stored header of one scoring run.
type RunRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	DataEnd   time.Time `json:"data_end"`
	Metric    string    `json:"metric"`
	Strategy  string    `json:"strategy"`
	Degraded  bool      `json:"degraded"`
	Skipped   int       `json:"skipped"`
}

// RunRepository persists scoring runs and their ranked entries.
type RunRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunRepository creates the schema and returns the repository.
func NewRunRepository(db *database.DB, log zerolog.Logger) (*RunRepository, error) {
	if _, err := db.Exec(runSchema); err != nil {
		return nil, fmt.Errorf("failed to create scoring run schema: %w", err)
	}
	return &RunRepository{db: db, log: log.With().Str("component", "run_repository").Logger()}, nil
}

// Save stores one run header with its ranking in a single transaction.
func (r *RunRepository) Save(report *Report) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin run transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO scoring_runs (id, created_at, data_end, metric, strategy, degraded, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.GeneratedAt.Format(time.RFC3339Nano), report.DataEnd.Format(time.RFC3339),
		report.Metric, report.Strategy, boolToInt(report.Degraded), len(report.Skipped),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scoring_entries (run_id, rank, symbol, final, prediction, fundamental, risk)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range report.Ranking {
		if _, err := stmt.Exec(report.RunID, entry.Rank, entry.Symbol, entry.Final,
			entry.Components.Prediction, entry.Components.Fundamental, entry.Components.Risk); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", entry.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	r.log.Debug().Str("run_id", report.RunID).Int("entries", len(report.Ranking)).Msg("Run persisted")
	return nil
}

// Latest returns the newest run header and its ranking.
func (r *RunRepository) Latest() (*RunRecord, []scoring.RankedEntry, error) {
	row := r.db.QueryRow(`
		SELECT id, created_at, data_end, metric, strategy, degraded, skipped
		FROM scoring_runs
		ORDER BY created_at DESC
		LIMIT 1`)

	var rec RunRecord
	var createdAt, dataEnd string
	var degraded int
	if err := row.Scan(&rec.ID, &createdAt, &dataEnd, &rec.Metric, &rec.Strategy, &degraded, &rec.Skipped); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNoRuns
		}
		return nil, nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	rec.Degraded = degraded != 0
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if rec.DataEnd, err = time.Parse(time.RFC3339, dataEnd); err != nil {
		return nil, nil, fmt.Errorf("bad data_end %q: %w", dataEnd, err)
	}

	rows, err := r.db.Query(`
		SELECT rank, symbol, final, prediction, fundamental, risk
		FROM scoring_entries
		WHERE run_id = ?
		ORDER BY rank ASC`, rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query entries for run %s: %w", rec.ID, err)
	}
	defer rows.Close()

	var entries []scoring.RankedEntry
	for rows.Next() {
		var e scoring.RankedEntry
		if err := rows.Scan(&e.Rank, &e.Symbol, &e.Final,
			&e.Components.Prediction, &e.Components.Fundamental, &e.Components.Risk); err != nil {
			return nil, nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Components.Symbol = e.Symbol
		e.Components.Final = e.Final
		entries = append(entries, e)
	}
	return &rec, entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
