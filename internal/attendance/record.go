// Package attendance implements the check-in admission pipeline and the
// append-only presence ledger derived from it.
package attendance

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by record stores when the (student, session)
// uniqueness constraint rejects an insert. It is an expected concurrency
// outcome, not a failure.
var ErrDuplicate = errors.New("attendance already recorded")

// Record is durable proof that a student checked into a session.
// At most one exists per (student, session), enforced by the store.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	SessionID  string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at"`
	TokenUsed  string    `json:"-"`
	Valid      bool      `json:"valid"`
}

// RecordStore persists attendance records. Insert must rely on the store's
// own uniqueness constraint, never on a prior existence check.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}
