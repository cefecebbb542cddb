package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"presence/internal/apperr"
	"presence/internal/token"
)

type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]Session
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]Session)}
}

func (r *fakeRepo) Create(_ context.Context, s Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	s.ID = fmt.Sprintf("sess-%d", r.seq)
	r.sessions[s.ID] = s
	return s, nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *fakeRepo) DeactivateForCourse(_ context.Context, courseID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.CourseID == courseID && s.Active {
			s.Active = false
			s.CurrentToken = nil
			s.TokenExpiresAt = nil
			r.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) SetToken(_ context.Context, id, tok string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CurrentToken = &tok
	s.TokenExpiresAt = &expiresAt
	r.sessions[id] = s
	return nil
}

func (r *fakeRepo) MarkClosed(_ context.Context, id string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	s.ClosedAt = &closedAt
	s.CurrentToken = nil
	s.TokenExpiresAt = nil
	r.sessions[id] = s
	return nil
}

type fakeOwners map[string]string

func (o fakeOwners) Owner(_ context.Context, courseID string) (string, error) {
	owner, ok := o[courseID]
	if !ok {
		return "", errors.New("course not found")
	}
	return owner, nil
}

func newTestService(repo Repository) *Service {
	owners := fakeOwners{"course-1": "teacher-1", "course-2": "teacher-2"}
	codec := token.NewCodec("test-secret")
	return NewService(repo, owners, codec, 10*time.Minute, zap.NewNop())
}

func TestOpenIssuesTokenAndActivates(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.NotEmpty(t, sess.Token())
	require.NotNil(t, sess.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *sess.TokenExpiresAt, 5*time.Second)

	stored, err := repo.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Token(), stored.Token())
}

func TestOpenSupersedesPriorActiveSession(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	first, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)
	second, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)

	old, err := repo.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active, "prior session must be superseded")
	assert.Empty(t, old.Token())

	fresh, err := repo.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Active)
}

func TestOpenAuthorization(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.Open(context.Background(), "course-1", "teacher-2")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Open(context.Background(), "course-missing", "teacher-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRotateReplacesToken(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)

	rotated, _, err := svc.Rotate(context.Background(), sess.ID, "teacher-1")
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token(), rotated)

	stored, err := repo.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated, stored.Token())
}

func TestRotateFailures(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)

	_, _, err = svc.Rotate(context.Background(), sess.ID, "teacher-2")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, _, err = svc.Rotate(context.Background(), "sess-missing", "teacher-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, svc.Close(context.Background(), sess.ID, "teacher-1"))
	_, _, err = svc.Rotate(context.Background(), sess.ID, "teacher-1")
	assert.True(t, apperr.Is(err, apperr.KindSessionClosed))
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)

	require.NoError(t, svc.Close(context.Background(), sess.ID, "teacher-1"))

	stored, err := repo.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.NotNil(t, stored.ClosedAt)
	assert.Empty(t, stored.Token())

	// Closing again is a no-op, not an error.
	require.NoError(t, svc.Close(context.Background(), sess.ID, "teacher-1"))

	err = svc.Close(context.Background(), sess.ID, "teacher-2")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestAuthorizedReadAccess(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.Open(context.Background(), "course-1", "teacher-1")
	require.NoError(t, err)

	_, err = svc.Authorized(context.Background(), sess.ID, "teacher-2", false)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Authorized(context.Background(), sess.ID, "admin-1", true)
	assert.NoError(t, err)
}
