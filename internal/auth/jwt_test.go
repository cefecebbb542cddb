package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "presence-api"
)

func TestIssueParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		role Role
	}{
		{"admin", RoleAdmin},
		{"teacher", RoleTeacher},
		{"student", RoleStudent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, _, err := Issue("user-1", tt.role, testIssuer, testKey, time.Hour)
			require.NoError(t, err)

			principal, err := Parse(tok, testKey, testIssuer)
			require.NoError(t, err)
			assert.Equal(t, "user-1", principal.ID)
			assert.Equal(t, tt.role, principal.Role)
		})
	}
}

func TestParseRejections(t *testing.T) {
	valid, _, err := Issue("user-1", RoleStudent, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	expired, _, err := Issue("user-1", RoleStudent, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	otherKey, _, err := Issue("user-1", RoleStudent, testIssuer, "other-key", time.Hour)
	require.NoError(t, err)
	otherIssuer, _, err := Issue("user-1", RoleStudent, "someone-else", testKey, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "nope"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"wrong issuer", otherIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, testKey, testIssuer)
			assert.Error(t, err)
		})
	}

	_, err = Parse(valid, testKey, testIssuer)
	assert.NoError(t, err)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("teacher")
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, role)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}
