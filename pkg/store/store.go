package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store records pipeline runs in PostgreSQL.
type Store struct {
	conn *pgx.Conn
}

// Run is the summary of one processed file.
type Run struct {
	ID        uuid.UUID
	File      string
	Steps     string
	StartedAt time.Time
	LowCount  int
	HighCount int
	RHalf     float64
	Elong     float64
	// Matches and ZeroPoint stay zero/NaN when flux calibration did not run.
	Matches   int
	ZeroPoint float64
	ZeroErr   float64
	Error     string
}

// NewRun starts a run record for file with a fresh ID.
func NewRun(file string) *Run {
	return &Run{
		ID:        uuid.New(),
		File:      file,
		StartedAt: time.Now().UTC(),
		RHalf:     math.NaN(),
		Elong:     math.NaN(),
		ZeroPoint: math.NaN(),
		ZeroErr:   math.NaN(),
	}
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id UUID PRIMARY KEY,
			file TEXT NOT NULL,
			steps TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ DEFAULT NOW(),
			low_count INT NOT NULL,
			high_count INT NOT NULL,
			rhalf DOUBLE PRECISION,
			elong DOUBLE PRECISION,
			matches INT NOT NULL DEFAULT 0,
			photzp DOUBLE PRECISION,
			photzper DOUBLE PRECISION,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS pipeline_runs_file_idx ON pipeline_runs (file);
	`)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// InsertRun saves r. NaN statistics are stored as NULL.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO pipeline_runs
			(id, file, steps, started_at, low_count, high_count, rhalf, elong, matches, photzp, photzper, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.File, r.Steps, r.StartedAt, r.LowCount, r.HighCount,
		nullable(r.RHalf), nullable(r.Elong), r.Matches, nullable(r.ZeroPoint), nullable(r.ZeroErr), errText)
	return err
}

// GetRun loads the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	r := &Run{ID: id}
	var rhalf, elong, zp, zpErr *float64
	var errText *string
	err := s.conn.QueryRow(ctx, `
		SELECT file, steps, started_at, low_count, high_count, rhalf, elong, matches, photzp, photzper, error
		FROM pipeline_runs WHERE id = $1
	`, id).Scan(&r.File, &r.Steps, &r.StartedAt, &r.LowCount, &r.HighCount, &rhalf, &elong, &r.Matches, &zp, &zpErr, &errText)
	if err != nil {
		return nil, err
	}
	r.RHalf, r.Elong, r.ZeroPoint, r.ZeroErr = orNaN(rhalf), orNaN(elong), orNaN(zp), orNaN(zpErr)
	if errText != nil {
		r.Error = *errText
	}
	return r, nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
