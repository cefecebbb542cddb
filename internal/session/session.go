// Package session implements the lifecycle of a course-meeting attendance
// session: open with a fresh scan token, rotate the token while live, close.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no session matches.
var ErrNotFound = errors.New("session not found")

// Session is one teacher-opened, time-windowed attendance-taking event for a
// single course meeting. References are by identifier only.
type Session struct {
	ID             string     `json:"id"`
	CourseID       string     `json:"course_id"`
	TeacherID      string     `json:"teacher_id"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CurrentToken   *string    `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Active         bool       `json:"active"`
}

// Token returns the current scan token, or "" if the session has none.
func (s Session) Token() string {
	if s.CurrentToken == nil {
		return ""
	}
	return *s.CurrentToken
}
