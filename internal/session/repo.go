package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence surface the lifecycle service needs.
type Repository interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	DeactivateForCourse(ctx context.Context, courseID string) (int64, error)
	SetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	MarkClosed(ctx context.Context, id string, closedAt time.Time) error
}

// PostgresRepository persists sessions in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, course_id, teacher_id, opened_at, closed_at, current_token, token_expires_at, is_active`

// Create inserts a new session row.
func (r *PostgresRepository) Create(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.OpenedAt.IsZero() {
		s.OpenedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_sessions (id, course_id, teacher_id, opened_at, current_token, token_expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.CourseID, s.TeacherID, s.OpenedAt, s.CurrentToken, s.TokenExpiresAt, s.Active)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM course_sessions WHERE id = $1
	`, id)
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.TeacherID, &s.OpenedAt, &s.ClosedAt, &s.CurrentToken, &s.TokenExpiresAt, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// DeactivateForCourse flips every active session of the course to inactive
// and drops their tokens. Returns the number superseded.
func (r *PostgresRepository) DeactivateForCourse(ctx context.Context, courseID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE course_sessions
		SET is_active = FALSE, current_token = NULL, token_expires_at = NULL
		WHERE course_id = $1 AND is_active
	`, courseID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetToken replaces the current token and its expiry in one write so readers
// never observe a torn pair.
func (r *PostgresRepository) SetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE course_sessions
		SET current_token = $2, token_expires_at = $3
		WHERE id = $1
	`, id, token, expiresAt)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkClosed terminates the session and clears its token.
func (r *PostgresRepository) MarkClosed(ctx context.Context, id string, closedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE course_sessions
		SET is_active = FALSE, closed_at = $2, current_token = NULL, token_expires_at = NULL
		WHERE id = $1
	`, id, closedAt)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
