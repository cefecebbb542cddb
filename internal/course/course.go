// Package course holds the course catalog and enrollment roster the check-in
// pipeline consults. Only the pieces the attendance core needs live here;
// full catalog management belongs to the surrounding application.
package course

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no course matches.
var ErrNotFound = errors.New("course not found")

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate")

// Course is a taught course owned by exactly one teacher.
type Course struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	TeacherID string    `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists courses and enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a course.
func (r *Repository) Create(ctx context.Context, c Course) (Course, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (id, code, name, teacher_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.Code, c.Name, c.TeacherID)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Course{}, ErrDuplicate
		}
		return Course{}, err
	}
	return c, nil
}

// Get returns a course by id.
func (r *Repository) Get(ctx context.Context, id string) (Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, teacher_id, created_at FROM courses WHERE id = $1
	`, id)
	var c Course
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.TeacherID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	if err != nil {
		return Course{}, err
	}
	return c, nil
}

// Owner returns the owning teacher of a course.
func (r *Repository) Owner(ctx context.Context, id string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT teacher_id FROM courses WHERE id = $1`, id)
	var teacherID string
	err := row.Scan(&teacherID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return teacherID, err
}

// Enroll adds a student to the course roster; enrolling twice is a no-op.
func (r *Repository) Enroll(ctx context.Context, courseID, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_students (course_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (course_id, student_id) DO NOTHING
	`, courseID, studentID)
	return err
}

// IsEnrolled reports whether the student is on the course roster.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM course_students WHERE course_id = $1 AND student_id = $2
		)
	`, courseID, studentID)
	var enrolled bool
	err := row.Scan(&enrolled)
	return enrolled, err
}

// EnrolledStudents lists student ids on the roster, ordered for stable output.
func (r *Repository) EnrolledStudents(ctx context.Context, courseID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM course_students WHERE course_id = $1 ORDER BY student_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		students = append(students, id)
	}
	return students, rows.Err()
}

// isUniqueViolation matches Postgres error class 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
