package attendance

import (
	"context"
	"math"
	"time"
)

// SessionPoint is one entry of the per-session attendance time series.
type SessionPoint struct {
	SessionID string    `json:"session_id"`
	OpenedAt  time.Time `json:"opened_at"`
	Present   int       `json:"present"`
}

// StudentStats summarizes one student's standing in a course.
type StudentStats struct {
	StudentID string  `json:"student_id"`
	Present   int     `json:"present"`
	Absent    int     `json:"absent"`
	Rate      float64 `json:"rate"`
}

// CourseStats is the read-side projection for one course.
type CourseStats struct {
	CourseID      string         `json:"course_id"`
	TotalSessions int            `json:"total_sessions"`
	Students      []StudentStats `json:"students"`
	Series        []SessionPoint `json:"series"`
}

// StatsStore supplies the raw counts the ledger aggregates. Counts include
// every session ever opened and only valid records.
type StatsStore interface {
	SessionCount(ctx context.Context, courseID string) (int, error)
	RecordCount(ctx context.Context, courseID, studentID string) (int, error)
	RecordCountsByStudent(ctx context.Context, courseID string) (map[string]int, error)
	SessionSeries(ctx context.Context, courseID string) ([]SessionPoint, error)
}

// RosterLister enumerates a course's enrolled students.
type RosterLister interface {
	EnrolledStudents(ctx context.Context, courseID string) ([]string, error)
}

// Ledger derives attendance and absence accounting. Read-only.
type Ledger struct {
	store  StatsStore
	roster RosterLister
}

// NewLedger creates a ledger over the given stores.
func NewLedger(store StatsStore, roster RosterLister) *Ledger {
	return &Ledger{store: store, roster: roster}
}

// AbsenceCount is total sessions minus the student's valid records, clamped
// to zero against inconsistent data.
func (l *Ledger) AbsenceCount(ctx context.Context, courseID, studentID string) (int, error) {
	sessions, err := l.store.SessionCount(ctx, courseID)
	if err != nil {
		return 0, err
	}
	records, err := l.store.RecordCount(ctx, courseID, studentID)
	if err != nil {
		return 0, err
	}
	return absences(sessions, records), nil
}

// CourseStats builds the full projection: per-student presence/absence/rate
// over every enrolled student, plus the per-session time series.
func (l *Ledger) CourseStats(ctx context.Context, courseID string) (CourseStats, error) {
	total, err := l.store.SessionCount(ctx, courseID)
	if err != nil {
		return CourseStats{}, err
	}
	students, err := l.roster.EnrolledStudents(ctx, courseID)
	if err != nil {
		return CourseStats{}, err
	}
	counts, err := l.store.RecordCountsByStudent(ctx, courseID)
	if err != nil {
		return CourseStats{}, err
	}
	series, err := l.store.SessionSeries(ctx, courseID)
	if err != nil {
		return CourseStats{}, err
	}

	stats := CourseStats{CourseID: courseID, TotalSessions: total, Series: series}
	for _, studentID := range students {
		present := counts[studentID]
		stats.Students = append(stats.Students, StudentStats{
			StudentID: studentID,
			Present:   present,
			Absent:    absences(total, present),
			Rate:      attendanceRate(total, present),
		})
	}
	return stats, nil
}

func absences(sessions, records int) int {
	if records > sessions {
		return 0
	}
	return sessions - records
}

// attendanceRate is the percentage of sessions attended, one decimal.
func attendanceRate(sessions, records int) float64 {
	if sessions <= 0 {
		return 0
	}
	return math.Round(float64(records)/float64(sessions)*1000) / 10
}
