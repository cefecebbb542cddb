package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"presence/internal/apperr"
	"presence/internal/token"
)

// CourseOwners resolves who owns a course. ErrNotFound from the course
// package surfaces as a not-found rejection here.
type CourseOwners interface {
	Owner(ctx context.Context, courseID string) (string, error)
}

// Service drives the session state machine. All mutations go through the
// store; no state is cached in-process.
type Service struct {
	repo    Repository
	courses CourseOwners
	codec   *token.Codec
	ttl     time.Duration
	log     *zap.Logger
}

// NewService creates a lifecycle service issuing tokens with the given ttl.
func NewService(repo Repository, courses CourseOwners, codec *token.Codec, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{repo: repo, courses: courses, codec: codec, ttl: ttl, log: log}
}

// Open creates a new active session for the course, superseding any prior
// active one, and stores a freshly issued scan token.
func (s *Service) Open(ctx context.Context, courseID, teacherID string) (Session, error) {
	owner, err := s.courses.Owner(ctx, courseID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindNotFound, "course not found", err)
	}
	if owner != teacherID {
		return Session{}, apperr.New(apperr.KindForbidden, "course is not yours")
	}

	superseded, err := s.repo.DeactivateForCourse(ctx, courseID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindInternal, "deactivate prior sessions", err)
	}
	if superseded > 0 {
		s.log.Warn("superseded active sessions",
			zap.String("course_id", courseID),
			zap.Int64("count", superseded))
	}

	sess, err := s.repo.Create(ctx, Session{
		CourseID:  courseID,
		TeacherID: teacherID,
		OpenedAt:  time.Now().UTC(),
		Active:    true,
	})
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindInternal, "create session", err)
	}

	tok, expiresAt, err := s.issue(ctx, &sess)
	if err != nil {
		return Session{}, err
	}
	sess.CurrentToken = &tok
	sess.TokenExpiresAt = &expiresAt
	return sess, nil
}

// Rotate replaces the session's current token before natural expiry,
// invalidating the prior one immediately via the token-equality rule.
func (s *Service) Rotate(ctx context.Context, sessionID, teacherID string) (string, time.Time, error) {
	sess, err := s.authorize(ctx, sessionID, teacherID, false)
	if err != nil {
		return "", time.Time{}, err
	}
	if !sess.Active {
		return "", time.Time{}, apperr.New(apperr.KindSessionClosed, "session already closed")
	}
	tok, expiresAt, err := s.issue(ctx, &sess)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, expiresAt, nil
}

// Close terminates the session. Closing an already-closed session is a no-op.
func (s *Service) Close(ctx context.Context, sessionID, teacherID string) error {
	sess, err := s.authorize(ctx, sessionID, teacherID, false)
	if err != nil {
		return err
	}
	if !sess.Active {
		return nil
	}
	if err := s.repo.MarkClosed(ctx, sessionID, time.Now().UTC()); err != nil {
		return apperr.Wrap(apperr.KindInternal, "close session", err)
	}
	s.log.Info("session closed",
		zap.String("session_id", sessionID),
		zap.String("course_id", sess.CourseID))
	return nil
}

// Authorized loads a session for read access by its owner, or by an admin.
func (s *Service) Authorized(ctx context.Context, sessionID, callerID string, admin bool) (Session, error) {
	return s.authorize(ctx, sessionID, callerID, admin)
}

func (s *Service) authorize(ctx context.Context, sessionID, callerID string, admin bool) (Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apperr.Wrap(apperr.KindNotFound, "session not found", err)
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindInternal, "load session", err)
	}
	if sess.TeacherID != callerID && !admin {
		return Session{}, apperr.New(apperr.KindForbidden, "session is not yours")
	}
	return sess, nil
}

// issue mints a token bound to the session and persists it as current.
// The stored expiry mirrors the token's embedded claim and is informational;
// freshness authority stays with the token itself.
func (s *Service) issue(ctx context.Context, sess *Session) (string, time.Time, error) {
	tok, expiresAt, err := s.codec.Issue(sess.ID, sess.CourseID, sess.TeacherID, s.ttl)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, "issue token", err)
	}
	if err := s.repo.SetToken(ctx, sess.ID, tok, expiresAt); err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, "store token", err)
	}
	return tok, expiresAt, nil
}
