// Package postgres implements [runstore.Store] on PostgreSQL using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/igtsplit/internal/runstore"
	"github.com/MrWong99/igtsplit/internal/split"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// Schema is the SQL DDL for the runs table. Apply it with [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS igtsplit_runs (
    id          UUID PRIMARY KEY,
    video       TEXT NOT NULL DEFAULT '',
    run_number  INTEGER NOT NULL,
    start_ms    BIGINT NOT NULL,
    end_ms      BIGINT NOT NULL,
    finished    BOOLEAN NOT NULL DEFAULT false,
    final_ms    BIGINT NOT NULL DEFAULT 0,
    events      JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_igtsplit_runs_video ON igtsplit_runs(video);
CREATE INDEX IF NOT EXISTS idx_igtsplit_runs_pb ON igtsplit_runs(final_ms) WHERE finished;
`

const columns = `id, video, run_number, start_ms, end_ms, finished, final_ms, events, created_at`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by [Store].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [runstore.Store] backed by PostgreSQL. Events are kept as JSONB.
type Store struct {
	db DB
}

var _ runstore.Store = (*Store)(nil)

// New returns a Store using db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the runs table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("runstore: migrate: %w", err)
	}
	return nil
}

// Save implements [runstore.Store].
func (s *Store) Save(ctx context.Context, run *runstore.Run) error {
	runstore.Prepare(run)
	events, err := json.Marshal(encodeEvents(run.Events))
	if err != nil {
		return fmt.Errorf("runstore: marshal events: %w", err)
	}
	const query = `
		INSERT INTO igtsplit_runs (` + columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = s.db.Exec(ctx, query,
		run.ID.String(), run.Video, run.Number,
		run.Start.Milliseconds(), run.End.Milliseconds(),
		run.Finished, run.Final.Milliseconds(), events, run.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("runstore: run %s already exists", run.ID)
		}
		return fmt.Errorf("runstore: save: %w", err)
	}
	return nil
}

// Get implements [runstore.Store].
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*runstore.Run, error) {
	query := `SELECT ` + columns + ` FROM igtsplit_runs WHERE id = $1`
	run, err := scanRun(s.db.QueryRow(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstore: get %s: %w", id, err)
	}
	return run, nil
}

// List implements [runstore.Store].
func (s *Store) List(ctx context.Context, video string) ([]runstore.Run, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if video == "" {
		rows, err = s.db.Query(ctx, `SELECT `+columns+` FROM igtsplit_runs ORDER BY created_at, run_number`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+columns+` FROM igtsplit_runs WHERE video = $1 ORDER BY created_at, run_number`, video)
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	defer rows.Close()

	var runs []runstore.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runstore: list scan: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	return runs, nil
}

// PersonalBest implements [runstore.Store].
func (s *Store) PersonalBest(ctx context.Context) (*runstore.Run, error) {
	const query = `SELECT ` + columns + ` FROM igtsplit_runs
		WHERE finished ORDER BY final_ms, created_at LIMIT 1`
	run, err := scanRun(s.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstore: personal best: %w", err)
	}
	return run, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanRun(r row) (*runstore.Run, error) {
	var (
		run                   runstore.Run
		id                    string
		startMs, endMs, finMs int64
		eventsJSON            []byte
	)
	if err := r.Scan(&id, &run.Video, &run.Number, &startMs, &endMs, &run.Finished, &finMs, &eventsJSON, &run.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	run.ID = parsed
	run.Start = time.Duration(startMs) * time.Millisecond
	run.End = time.Duration(endMs) * time.Millisecond
	run.Final = time.Duration(finMs) * time.Millisecond

	var events []eventJSON
	if err := json.Unmarshal(eventsJSON, &events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	run.Events = decodeEvents(events)
	return &run, nil
}

type eventJSON struct {
	Seq     int    `json:"seq"`
	Run     int    `json:"run"`
	AtMs    int64  `json:"at_ms"`
	IGTMs   int64  `json:"igt_ms"`
	Percent *int   `json:"percent,omitempty"`
	Label   string `json:"label,omitempty"`
	Kind    string `json:"kind"`
}

func encodeEvents(events []split.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		j := eventJSON{
			Seq:   e.Seq,
			Run:   e.Run,
			AtMs:  e.Timestamp.Milliseconds(),
			IGTMs: e.IGT.Duration().Milliseconds(),
			Label: e.Label,
			Kind:  e.Kind.String(),
		}
		if e.IGT.HasPercent {
			p := e.IGT.Percent
			j.Percent = &p
		}
		out = append(out, j)
	}
	return out
}

func decodeEvents(events []eventJSON) []split.Event {
	out := make([]split.Event, 0, len(events))
	for _, j := range events {
		v := igt.FromDuration(time.Duration(j.IGTMs) * time.Millisecond)
		if j.Percent != nil {
			v = v.WithPercent(*j.Percent)
		}
		out = append(out, split.Event{
			Seq:       j.Seq,
			Run:       j.Run,
			Timestamp: time.Duration(j.AtMs) * time.Millisecond,
			IGT:       v,
			Label:     j.Label,
			Kind:      kindOf(j.Kind),
		})
	}
	return out
}

func kindOf(s string) split.Kind {
	for _, k := range []split.Kind{split.KindSplit, split.KindReset, split.KindHold, split.KindFinal} {
		if k.String() == s {
			return k
		}
	}
	return split.KindSplit
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
