package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the call log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			call_sid TEXT UNIQUE NOT NULL,
			from_number TEXT NOT NULL DEFAULT '',
			to_number TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			duration_secs INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_turns (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			starts_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_started ON calls (started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_call_created ON transcript_turns (call_sid, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_starts ON appointments (starts_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) StartCall(ctx context.Context, record CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = "in_progress"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, call_sid, from_number, to_number, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (call_sid) DO UPDATE SET from_number = EXCLUDED.from_number, to_number = EXCLUDED.to_number`,
		record.ID,
		record.CallSid,
		record.FromNumber,
		record.ToNumber,
		record.Status,
		record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishCall(ctx context.Context, callSid, status string, endedAt time.Time, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status=$2, ended_at=$3, duration_secs=$4 WHERE call_sid=$1`,
		callSid,
		status,
		endedAt,
		int(duration/time.Second),
	)
	if err != nil {
		return fmt.Errorf("finish call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn TranscriptTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_turns (id, call_sid, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ID,
		turn.CallSid,
		turn.Role,
		turn.Content,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAppointment(ctx context.Context, appt Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO appointments (id, call_sid, raw_text, starts_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		appt.ID,
		appt.CallSid,
		appt.RawText,
		appt.StartsAt,
		appt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Call(ctx context.Context, callSid string) (CallRecord, error) {
	var (
		r       CallRecord
		endedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, call_sid, from_number, to_number, status, started_at, ended_at, duration_secs
		 FROM calls WHERE call_sid=$1`,
		callSid,
	).Scan(&r.ID, &r.CallSid, &r.FromNumber, &r.ToNumber, &r.Status, &r.StartedAt, &endedAt, &r.DurationSecs)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrCallNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("query call: %w", err)
	}
	if endedAt != nil {
		r.EndedAt = *endedAt
	}
	return r, nil
}

func (s *PostgresStore) Turns(ctx context.Context, callSid string) ([]TranscriptTurn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, role, content, created_at
		 FROM transcript_turns WHERE call_sid=$1 ORDER BY created_at`,
		callSid,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []TranscriptTurn
	for rows.Next() {
		var t TranscriptTurn
		if err := rows.Scan(&t.ID, &t.CallSid, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Appointments(ctx context.Context, callSid string) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, raw_text, starts_at, created_at
		 FROM appointments WHERE call_sid=$1 ORDER BY created_at`,
		callSid,
	)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.CallSid, &a.RawText, &a.StartsAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows: %w", err)
	}
	return appts, nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, from_number, to_number, status, started_at, ended_at, duration_secs
		 FROM calls ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	calls := make([]CallRecord, 0, limit)
	for rows.Next() {
		var (
			r       CallRecord
			endedAt *time.Time
		)
		if err := rows.Scan(&r.ID, &r.CallSid, &r.FromNumber, &r.ToNumber, &r.Status, &r.StartedAt, &endedAt, &r.DurationSecs); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		if endedAt != nil {
			r.EndedAt = *endedAt
		}
		calls = append(calls, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}
	return calls, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
