package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/crossfade/internal/types"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store manages the PostgreSQL connection holding the run ledger.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the ledger tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			registered_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			image_id TEXT REFERENCES images(id),
			workers INT NOT NULL,
			frames INT NOT NULL,
			transport TEXT NOT NULL,
			output_prefix TEXT NOT NULL,
			status TEXT NOT NULL,
			elapsed_ms DOUBLE PRECISION,
			written INT DEFAULT 0,
			error TEXT,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS frames (
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			idx INT NOT NULL,
			path TEXT NOT NULL,
			bytes INT NOT NULL,
			error TEXT,
			written_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (run_id, idx)
		);
		CREATE INDEX IF NOT EXISTS runs_image_id_idx ON runs (image_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureImage registers the input image. If it exists, its path and size are refreshed.
func (s *Store) EnsureImage(ctx context.Context, imageID, path string, width, height int) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO images (id, path, width, height, registered_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET registered_at = NOW(), path = EXCLUDED.path,
			width = EXCLUDED.width, height = EXCLUDED.height
	`, imageID, path, width, height)
	return err
}

// RunSpec describes a run as it starts.
type RunSpec struct {
	ImageID   string
	Workers   int
	Frames    int
	Transport string
	Output    string
}

// StartRun records a new run in the running state and returns its id.
// ImageID may be empty when the input has not been decoded yet.
func (s *Store) StartRun(ctx context.Context, spec RunSpec) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO runs (id, image_id, workers, frames, transport, output_prefix, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, nullable(spec.ImageID), spec.Workers, spec.Frames, spec.Transport, spec.Output, StatusRunning)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// SetRunImage links a run to its decoded input.
func (s *Store) SetRunImage(ctx context.Context, runID uuid.UUID, imageID string) error {
	_, err := s.conn.Exec(ctx, "UPDATE runs SET image_id = $2 WHERE id = $1", runID, imageID)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordFrame saves the outcome of one frame.
func (s *Store) RecordFrame(ctx context.Context, runID uuid.UUID, ev types.FrameEvent) error {
	var errText *string
	if ev.Err != nil {
		errText = nullable(ev.Err.Error())
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO frames (run_id, idx, path, bytes, error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, idx) DO UPDATE SET path = EXCLUDED.path, bytes = EXCLUDED.bytes,
			error = EXCLUDED.error, written_at = NOW()
	`, runID, ev.Index, ev.Path, ev.Bytes, errText)
	return err
}

// FinishRun closes a run with its final status.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, elapsed time.Duration, written int, runErr error) error {
	status := StatusCompleted
	var errText *string
	if runErr != nil {
		status = StatusFailed
		errText = nullable(runErr.Error())
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE runs SET status = $2, elapsed_ms = $3, written = $4, error = $5, finished_at = NOW()
		WHERE id = $1
	`, runID, status, float64(elapsed)/float64(time.Millisecond), written, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Run is one row of the ledger.
type Run struct {
	ID        uuid.UUID
	ImagePath string
	Width     int
	Height    int
	Workers   int
	Frames    int
	Written   int
	Skipped   int
	Status    string
	Elapsed   time.Duration
	Error     string
	StartedAt time.Time
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, COALESCE(i.path, ''), COALESCE(i.width, 0), COALESCE(i.height, 0), r.workers, r.frames, r.written,
			(SELECT COUNT(*) FROM frames f WHERE f.run_id = r.id AND f.error IS NOT NULL),
			r.status, COALESCE(r.elapsed_ms, 0), COALESCE(r.error, ''), r.started_at
		FROM runs r
		LEFT JOIN images i ON i.id = r.image_id
		ORDER BY r.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var elapsedMS float64
		if err := rows.Scan(&r.ID, &r.ImagePath, &r.Width, &r.Height, &r.Workers, &r.Frames, &r.Written,
			&r.Skipped, &r.Status, &elapsedMS, &r.Error, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsedMS * float64(time.Millisecond))
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunFrames returns the recorded frames of a run in frame order.
func (s *Store) GetRunFrames(ctx context.Context, runID uuid.UUID) ([]types.FrameEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT idx, path, bytes, error FROM frames WHERE run_id = $1 ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FrameEvent
	for rows.Next() {
		var ev types.FrameEvent
		var errText *string
		if err := rows.Scan(&ev.Index, &ev.Path, &ev.Bytes, &errText); err != nil {
			return nil, err
		}
		if errText != nil {
			ev.Err = errors.New(*errText)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frames CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS images CASCADE;
	`)
	return err
}
