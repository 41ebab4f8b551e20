// Package modelstore persists trained horizon models for audit and
// later serving. Metadata (hyperparameters, validation metric, data
// coverage) lives in SQLite; the fitted coefficients live as msgpack
// artifacts on disk, replaced atomically.
package modelstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kabuscan/kabuscan/internal/database"
	"github.com/kabuscan/kabuscan/internal/model"
)

// ErrNotFound indicates no stored model matches the request.
var ErrNotFound = errors.New("model not found")

const schema = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	horizon INTEGER NOT NULL,
	data_end TEXT NOT NULL,
	strategy TEXT NOT NULL,
	lambda REAL NOT NULL,
	half_life INTEGER NOT NULL,
	validation_mean REAL NOT NULL,
	validation_std REAL NOT NULL,
	windows INTEGER NOT NULL,
	path TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(horizon, data_end)
);
CREATE INDEX IF NOT EXISTS idx_model_artifacts_horizon ON model_artifacts(horizon, data_end DESC);
`

// Record is one stored model's metadata row.
type Record struct {
	ID             int64     `json:"id"`
	Horizon        int       `json:"horizon"`
	DataEnd        time.Time `json:"data_end"`
	Strategy       string    `json:"strategy"`
	Lambda         float64   `json:"lambda"`
	HalfLife       int       `json:"half_life"`
	ValidationMean float64   `json:"validation_mean"`
	ValidationStd  float64   `json:"validation_std"`
	Windows        int       `json:"windows"`
	Path           string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store keeps model artifacts under one directory with a SQLite index.
type Store struct {
	db  *database.DB
	dir string
	log zerolog.Logger
}

// New opens a store rooted at dir, creating the directory and schema as
// needed.
func New(db *database.DB, dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create model_artifacts schema: %w", err)
	}
	return &Store{
		db:  db,
		dir: dir,
		log: log.With().Str("component", "modelstore").Logger(),
	}, nil
}

// Save persists one trained model, replacing any earlier model for the
// same horizon and data coverage. The artifact is written to a temp
// file and renamed so readers never see a half-written model.
func (s *Store) Save(m *model.HorizonModel) (*Record, error) {
	snap := m.Snapshot()

	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model for horizon %d: %w", snap.Horizon, err)
	}

	name := fmt.Sprintf("horizon_%d_%s.msgpack", snap.Horizon, snap.DataEnd.Format("20060102"))
	finalPath := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to replace artifact: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		INSERT INTO model_artifacts
			(horizon, data_end, strategy, lambda, half_life, validation_mean, validation_std, windows, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(horizon, data_end) DO UPDATE SET
			strategy = excluded.strategy,
			lambda = excluded.lambda,
			half_life = excluded.half_life,
			validation_mean = excluded.validation_mean,
			validation_std = excluded.validation_std,
			windows = excluded.windows,
			path = excluded.path,
			created_at = excluded.created_at`,
		snap.Horizon, snap.DataEnd.Format(time.RFC3339), snap.Strategy,
		snap.Params.Lambda, snap.Params.HalfLife,
		snap.ValidationMean, snap.ValidationStd, snap.Windows,
		finalPath, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to index artifact for horizon %d: %w", snap.Horizon, err)
	}
	id, _ := result.LastInsertId()

	s.log.Info().
		Int("horizon", snap.Horizon).
		Str("path", finalPath).
		Time("data_end", snap.DataEnd).
		Msg("Model saved")

	return &Record{
		ID:             id,
		Horizon:        snap.Horizon,
		DataEnd:        snap.DataEnd,
		Strategy:       snap.Strategy,
		Lambda:         snap.Params.Lambda,
		HalfLife:       snap.Params.HalfLife,
		ValidationMean: snap.ValidationMean,
		ValidationStd:  snap.ValidationStd,
		Windows:        snap.Windows,
		Path:           finalPath,
		CreatedAt:      now,
	}, nil
}

// LoadLatest returns the most recently covering model for a horizon.
func (s *Store) LoadLatest(horizon int) (*model.HorizonModel, *Record, error) {
	row := s.db.QueryRow(`
		SELECT id, horizon, data_end, strategy, lambda, half_life,
		       validation_mean, validation_std, windows, path, created_at
		FROM model_artifacts
		WHERE horizon = ?
		ORDER BY data_end DESC, id DESC
		LIMIT 1`, horizon)

	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: horizon %d", ErrNotFound, horizon)
		}
		return nil, nil, fmt.Errorf("failed to query model for horizon %d: %w", horizon, err)
	}

	payload, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact %s: %w", rec.Path, err)
	}

	var snap model.Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, nil, fmt.Errorf("failed to decode artifact %s: %w", rec.Path, err)
	}
	m, err := model.FromSnapshot(snap)
	if err != nil {
		return nil, nil, err
	}
	return m, rec, nil
}

// List returns all stored model metadata, newest coverage first.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, horizon, data_end, strategy, lambda, half_life,
		       validation_mean, validation_std, windows, path, created_at
		FROM model_artifacts
		ORDER BY data_end DESC, horizon ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...interface{}) error) (*Record, error) {
	var rec Record
	var dataEnd, createdAt string
	if err := scan(&rec.ID, &rec.Horizon, &dataEnd, &rec.Strategy, &rec.Lambda, &rec.HalfLife,
		&rec.ValidationMean, &rec.ValidationStd, &rec.Windows, &rec.Path, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if rec.DataEnd, err = time.Parse(time.RFC3339, dataEnd); err != nil {
		return nil, fmt.Errorf("bad data_end %q: %w", dataEnd, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	return &rec, nil
}
