// Package token implements the signed, time-bound session token scanned by
// students. Tokens are HS256 JWTs verifiable without any server-side state.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired means the token parsed but its embedded expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature means the MAC did not verify under the codec secret.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrMalformed means the string is not a parseable token at all.
	ErrMalformed = errors.New("token malformed")
)

// Claims is the payload bound into a session token.
type Claims struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	TeacherID string `json:"teacher_id"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with an injected secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec. The secret is process configuration, passed
// explicitly rather than read from ambient state.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Issue signs a token for the given session with expiry now+ttl.
// Each issued token carries a fresh ID so rotation always produces a
// distinct string even within the same second.
func (c *Codec) Issue(sessionID, courseID, teacherID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		SessionID: sessionID,
		CourseID:  courseID,
		TeacherID: teacherID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// Pure function of (token, secret, current time); no storage access.
// Expiry is a hard cutoff with no clock-skew grace.
func (c *Codec) Verify(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrBadSignature
		default:
			return Claims{}, ErrMalformed
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}
	if claims.SessionID == "" {
		return Claims{}, ErrMalformed
	}
	return *claims, nil
}
