package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"presence/internal/apperr"
	"presence/internal/course"
	"presence/internal/queue"
	"presence/internal/session"
	"presence/internal/token"
)

// Outcome of an accepted scan.
type Outcome string

const (
	// OutcomeRecorded means a new attendance record was created.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeAlreadyRecorded means a record for this (student, session)
	// already existed. Idempotent, not an error.
	OutcomeAlreadyRecorded Outcome = "already_recorded"
)

// ScanResult is the definitive answer to one scan submission.
type ScanResult struct {
	Outcome    Outcome   `json:"outcome"`
	CourseName string    `json:"course_name"`
	SessionID  string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// SessionReader loads sessions for validation.
type SessionReader interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// CourseReader loads course metadata.
type CourseReader interface {
	Get(ctx context.Context, id string) (course.Course, error)
}

// Roster answers enrollment membership at scan time.
type Roster interface {
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

// Publisher fans successful check-ins out to the worker queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

var scanResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "presence_scan_results_total",
	Help: "Scan submissions by result.",
}, []string{"result"})

// Validator is the admission-control pipeline a scan must pass before a
// presence record is created.
type Validator struct {
	codec    *token.Codec
	sessions SessionReader
	courses  CourseReader
	roster   Roster
	records  RecordStore
	events   Publisher
	log      *zap.Logger
}

// NewValidator wires the pipeline. events may be nil to skip fan-out.
func NewValidator(codec *token.Codec, sessions SessionReader, courses CourseReader, roster Roster, records RecordStore, events Publisher, log *zap.Logger) *Validator {
	return &Validator{
		codec:    codec,
		sessions: sessions,
		courses:  courses,
		roster:   roster,
		records:  records,
		events:   events,
		log:      log,
	}
}

// SubmitScan runs the pipeline in strict order; the first failing step wins
// and nothing is written. No in-process lock is held across store calls: the
// record store's uniqueness constraint is the sole concurrency gate, so
// concurrent duplicates surface as ErrDuplicate and map to AlreadyRecorded.
func (v *Validator) SubmitScan(ctx context.Context, studentID, rawToken string) (ScanResult, error) {
	// 1. Authenticity and freshness. Malformed, forged and expired tokens
	// all collapse to one rejection so callers learn nothing extra.
	claims, err := v.codec.Verify(rawToken)
	if err != nil {
		return v.reject(apperr.Wrap(apperr.KindTokenInvalid, "code expired or invalid", err))
	}

	// 2. Session liveness.
	sess, err := v.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return v.reject(apperr.Wrap(apperr.KindNotFound, "session not found or closed", err))
	}
	if err != nil {
		return v.reject(apperr.Wrap(apperr.KindInternal, "load session", err))
	}
	if !sess.Active {
		return v.reject(apperr.New(apperr.KindNotFound, "session not found or closed"))
	}

	// 3. Token equality: rotation and supersede invalidate older tokens
	// immediately, regardless of their embedded expiry.
	if sess.Token() != rawToken {
		return v.reject(apperr.New(apperr.KindTokenStale, "code no longer current"))
	}

	crs, err := v.courses.Get(ctx, sess.CourseID)
	if err != nil {
		return v.reject(apperr.Wrap(apperr.KindInternal, "load course", err))
	}

	// 4. Enrollment membership at scan time.
	enrolled, err := v.roster.IsEnrolled(ctx, sess.CourseID, studentID)
	if err != nil {
		return v.reject(apperr.Wrap(apperr.KindInternal, "enrollment lookup", err))
	}
	if !enrolled {
		return v.reject(apperr.New(apperr.KindNotEnrolled, "you are not enrolled in "+crs.Name))
	}

	// 5. Record creation under the store's uniqueness constraint.
	rec, err := v.records.Insert(ctx, Record{
		StudentID:  studentID,
		SessionID:  sess.ID,
		RecordedAt: time.Now().UTC(),
		TokenUsed:  rawToken,
		Valid:      true,
	})
	if errors.Is(err, ErrDuplicate) {
		scanResults.WithLabelValues(string(OutcomeAlreadyRecorded)).Inc()
		return ScanResult{
			Outcome:    OutcomeAlreadyRecorded,
			CourseName: crs.Name,
			SessionID:  sess.ID,
		}, nil
	}
	if err != nil {
		return v.reject(apperr.Wrap(apperr.KindInternal, "record attendance", err))
	}

	v.publish(ctx, rec, sess.CourseID)
	scanResults.WithLabelValues(string(OutcomeRecorded)).Inc()
	return ScanResult{
		Outcome:    OutcomeRecorded,
		CourseName: crs.Name,
		SessionID:  sess.ID,
		RecordedAt: rec.RecordedAt,
	}, nil
}

// publish fans the accepted check-in out to the worker. Best-effort: a queue
// hiccup must not turn a recorded scan into a failure.
func (v *Validator) publish(ctx context.Context, rec Record, courseID string) {
	if v.events == nil {
		return
	}
	body, err := json.Marshal(queue.CheckInEvent{
		RecordID:  rec.ID,
		SessionID: rec.SessionID,
		CourseID:  courseID,
		StudentID: rec.StudentID,
	})
	if err != nil {
		v.log.Error("encode check-in event", zap.Error(err))
		return
	}
	if err := v.events.Publish(ctx, queue.Message{Type: queue.TypeCheckIn, Body: body}); err != nil {
		v.log.Error("publish check-in event",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}

func (v *Validator) reject(err error) (ScanResult, error) {
	scanResults.WithLabelValues(string(apperr.KindOf(err))).Inc()
	return ScanResult{}, err
}
