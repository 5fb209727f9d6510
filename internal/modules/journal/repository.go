// Package journal keeps an audit trail of optimization runs and ships it to
// object storage.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/mktcalc/internal/database"
	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultListLimit applies when List is called without a positive limit
	DefaultListLimit = 50
	// MaxListLimit caps a single List call
	MaxListLimit = 500
)

// Run is one journaled optimization. ExpectedReturn and Volatility are nil
// unless the run was optimal.
type Run struct {
	ID             string    `json:"id" msgpack:"id"`
	CreatedAt      time.Time `json:"created_at" msgpack:"created_at"`
	Status         string    `json:"status" msgpack:"status"`
	Objective      string    `json:"objective" msgpack:"objective"`
	Instruments    int       `json:"instruments" msgpack:"instruments"`
	ExpectedReturn *float64  `json:"expected_return,omitempty" msgpack:"expected_return,omitempty"`
	Volatility     *float64  `json:"volatility,omitempty" msgpack:"volatility,omitempty"`
	DurationMS     int64     `json:"duration_ms" msgpack:"duration_ms"`
	Detail         string    `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Export is one object written by the export job. Runs created in the same
// millisecond share a watermark, so BoundaryIDs lists the exported runs created
// at ExportedThrough; the next export skips exactly those.
type Export struct {
	Key             string
	ExportedThrough time.Time
	BoundaryIDs     []string
	Runs            int
	CreatedAt       time.Time
}

// Repository stores runs in the journal database
type Repository struct {
	db  *database.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new journal repository. The database must be
// migrated.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repository", "journal").Logger(),
	}
}

// Record stores a finished run. It satisfies optimization.RunRecorder.
func (r *Repository) Record(ctx context.Context, rec optimization.RunRecord) error {
	var expectedReturn, volatility sql.NullFloat64
	if rec.Status == optimization.StatusOptimal {
		expectedReturn = sql.NullFloat64{Float64: rec.ExpectedReturn, Valid: true}
		volatility = sql.NullFloat64{Float64: rec.Volatility, Valid: true}
	}

	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO optimization_runs
		(id, created_at, status, objective, instruments, expected_return, volatility, duration_ms, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		r.now().UnixMilli(),
		string(rec.Status),
		rec.Objective.String(),
		rec.Instruments,
		expectedReturn,
		volatility,
		rec.Duration.Milliseconds(),
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	r.log.Debug().Str("id", id).Str("status", string(rec.Status)).Msg("Run recorded")
	return nil
}

// List returns the most recent runs, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, status, objective, instruments, expected_return, volatility, duration_ms, detail
		FROM optimization_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// Since returns runs created at or after t, oldest first, leaving out the runs
// listed in exclude
func (r *Repository) Since(ctx context.Context, t time.Time, exclude []string) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, status, objective, instruments, expected_return, volatility, duration_ms, detail
		FROM optimization_runs
		WHERE created_at >= ?
		ORDER BY created_at, id
	`, t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs since %s: %w", t.Format(time.RFC3339), err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil || len(exclude) == 0 {
		return runs, err
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	kept := runs[:0]
	for _, run := range runs {
		if _, ok := skip[run.ID]; !ok {
			kept = append(kept, run)
		}
	}
	return kept, nil
}

// DeleteOlderThan removes runs created before cutoff and returns how many
// were removed
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM optimization_runs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return deleted, nil
}

// LastExport returns the most recent export, or nil if nothing was exported yet
func (r *Repository) LastExport(ctx context.Context) (*Export, error) {
	var e Export
	var through, created int64
	var boundary string
	err := r.db.QueryRowContext(ctx, `
		SELECT object_key, exported_through, boundary_ids, runs, created_at
		FROM journal_exports
		ORDER BY exported_through DESC, rowid DESC
		LIMIT 1
	`).Scan(&e.Key, &through, &boundary, &e.Runs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last export: %w", err)
	}

	if err := json.Unmarshal([]byte(boundary), &e.BoundaryIDs); err != nil {
		return nil, fmt.Errorf("failed to decode boundary of export %s: %w", e.Key, err)
	}
	e.ExportedThrough = time.UnixMilli(through)
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}

// RecordExport stores the watermark of a finished export
func (r *Repository) RecordExport(ctx context.Context, e Export) error {
	if e.BoundaryIDs == nil {
		e.BoundaryIDs = []string{}
	}
	boundary, err := json.Marshal(e.BoundaryIDs)
	if err != nil {
		return fmt.Errorf("failed to encode boundary of export %s: %w", e.Key, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO journal_exports (object_key, exported_through, boundary_ids, runs, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Key, e.ExportedThrough.UnixMilli(), string(boundary), e.Runs, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record export %s: %w", e.Key, err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var created int64
		var expectedReturn, volatility sql.NullFloat64
		if err := rows.Scan(
			&run.ID,
			&created,
			&run.Status,
			&run.Objective,
			&run.Instruments,
			&expectedReturn,
			&volatility,
			&run.DurationMS,
			&run.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.CreatedAt = time.UnixMilli(created)
		if expectedReturn.Valid {
			v := expectedReturn.Float64
			run.ExpectedReturn = &v
		}
		if volatility.Valid {
			v := volatility.Float64
			run.Volatility = &v
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
