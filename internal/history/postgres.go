package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// Schema is the SQL DDL for the practice_history table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_history (
    id                UUID PRIMARY KEY,
    created_at        TIMESTAMPTZ NOT NULL,
    topic             TEXT NOT NULL DEFAULT '',
    candidates        JSONB NOT NULL DEFAULT '[]',
    language          TEXT NOT NULL DEFAULT '',
    student_id        TEXT NOT NULL DEFAULT '',
    class_id          TEXT NOT NULL DEFAULT '',
    transcript        TEXT NOT NULL DEFAULT '',
    audio_mime        TEXT NOT NULL DEFAULT '',
    audio_duration_ms BIGINT NOT NULL DEFAULT 0,
    audio_path        TEXT NOT NULL DEFAULT '',
    result            JSONB,
    eval_error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_practice_history_created ON practice_history(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_practice_history_student ON practice_history(student_id);
CREATE INDEX IF NOT EXISTS idx_practice_history_class ON practice_history(class_id);
`

const selectColumns = `
	SELECT id::text, created_at, topic, candidates, language, student_id, class_id,
	       transcript, audio_mime, audio_duration_ms, audio_path, result, eval_error
	FROM practice_history`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL. The evaluation result is
// stored as JSONB so it can be queried ad hoc by an instructor.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool // non-nil when the store owns the pool
}

// NewPostgresStore wraps an existing connection or pool. The caller keeps
// ownership of db and must call [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn, verifies the connection and migrates the
// schema. [PostgresStore.Close] closes the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1::uuid`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	return e, nil
}

// Set implements [Store.Set].
func (s *PostgresStore) Set(ctx context.Context, e Entry) error {
	candidates, err := json.Marshal(emptySlice(e.Candidates))
	if err != nil {
		return fmt.Errorf("history: marshal candidates: %w", err)
	}
	var result []byte
	if e.Result != nil {
		if result, err = json.Marshal(e.Result); err != nil {
			return fmt.Errorf("history: marshal result: %w", err)
		}
	}

	const query = `
		INSERT INTO practice_history (
			id, created_at, topic, candidates, language, student_id, class_id,
			transcript, audio_mime, audio_duration_ms, audio_path, result, eval_error
		) VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			created_at = EXCLUDED.created_at, topic = EXCLUDED.topic,
			candidates = EXCLUDED.candidates, language = EXCLUDED.language,
			student_id = EXCLUDED.student_id, class_id = EXCLUDED.class_id,
			transcript = EXCLUDED.transcript, audio_mime = EXCLUDED.audio_mime,
			audio_duration_ms = EXCLUDED.audio_duration_ms, audio_path = EXCLUDED.audio_path,
			result = EXCLUDED.result, eval_error = EXCLUDED.eval_error`

	_, err = s.db.Exec(ctx, query,
		e.ID.String(), e.CreatedAt, e.Topic, candidates, e.Language, e.StudentID, e.ClassID,
		e.Transcript, e.AudioMIME, e.AudioDuration.Milliseconds(), e.AudioPath, result, e.EvalError,
	)
	if err != nil {
		return fmt.Errorf("history: set %s: %w", e.ID, err)
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM practice_history WHERE id = $1::uuid`, id.String())
	if err != nil {
		return fmt.Errorf("history: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	query, args := listQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Close implements [Store.Close]. It closes the pool only when the store
// opened it.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// listQuery builds the SELECT for f with positional arguments.
func listQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.ClassID != "" {
		add("class_id = $%d", f.ClassID)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// scanEntry reads one row in [selectColumns] order.
func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e          Entry
		id         string
		candidates []byte
		result     []byte
		durationMS int64
	)
	err := row.Scan(
		&id, &e.CreatedAt, &e.Topic, &candidates, &e.Language, &e.StudentID, &e.ClassID,
		&e.Transcript, &e.AudioMIME, &durationMS, &e.AudioPath, &result, &e.EvalError,
	)
	if err != nil {
		return Entry{}, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return Entry{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.AudioDuration = time.Duration(durationMS) * time.Millisecond
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &e.Candidates); err != nil {
			return Entry{}, fmt.Errorf("unmarshal candidates: %w", err)
		}
		if len(e.Candidates) == 0 {
			e.Candidates = nil
		}
	}
	if len(result) > 0 {
		e.Result = new(evaluate.Result)
		if err := json.Unmarshal(result, e.Result); err != nil {
			return Entry{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return e, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
