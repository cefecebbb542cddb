package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance records and serves ledger reads from
// Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record. A unique-constraint violation on
// (student_id, session_id) maps to ErrDuplicate; the constraint itself is
// the concurrency gate.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_id, recorded_at, token_used, valid)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.StudentID, rec.SessionID, rec.RecordedAt, rec.TokenUsed, rec.Valid)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// ListBySession returns a session's records ordered by scan time.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, session_id, recorded_at, token_used, valid
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY recorded_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.RecordedAt, &rec.TokenUsed, &rec.Valid); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Invalidate flips a record to valid = FALSE for post-hoc corrections.
func (r *Repository) Invalidate(ctx context.Context, recordID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET valid = FALSE WHERE id = $1
	`, recordID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SessionCount counts every session ever opened for the course, regardless
// of its current state.
func (r *Repository) SessionCount(ctx context.Context, courseID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM course_sessions WHERE course_id = $1
	`, courseID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// RecordCount counts the student's valid records across the course.
func (r *Repository) RecordCount(ctx context.Context, courseID, studentID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attendance_records ar
		JOIN course_sessions cs ON cs.id = ar.session_id
		WHERE cs.course_id = $1 AND ar.student_id = $2 AND ar.valid
	`, courseID, studentID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// RecordCountsByStudent returns valid-record counts keyed by student for the
// whole course in one query.
func (r *Repository) RecordCountsByStudent(ctx context.Context, courseID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ar.student_id, COUNT(*)
		FROM attendance_records ar
		JOIN course_sessions cs ON cs.id = ar.session_id
		WHERE cs.course_id = $1 AND ar.valid
		GROUP BY ar.student_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var studentID string
		var n int
		if err := rows.Scan(&studentID, &n); err != nil {
			return nil, err
		}
		counts[studentID] = n
	}
	return counts, rows.Err()
}

// SessionSeries returns per-session valid-record counts ordered by opening
// time, for the course attendance graph.
func (r *Repository) SessionSeries(ctx context.Context, courseID string) ([]SessionPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cs.id, cs.opened_at, COUNT(ar.id) FILTER (WHERE ar.valid)
		FROM course_sessions cs
		LEFT JOIN attendance_records ar ON ar.session_id = cs.id
		WHERE cs.course_id = $1
		GROUP BY cs.id, cs.opened_at
		ORDER BY cs.opened_at
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var series []SessionPoint
	for rows.Next() {
		var p SessionPoint
		if err := rows.Scan(&p.SessionID, &p.OpenedAt, &p.Present); err != nil {
			return nil, err
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// isUniqueViolation matches Postgres error class 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
