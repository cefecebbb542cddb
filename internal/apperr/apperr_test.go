package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTokenStale, KindOf(New(KindTokenStale, "stale")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", New(KindForbidden, "nope"))
	assert.Equal(t, KindForbidden, KindOf(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindTokenInvalid, http.StatusBadRequest},
		{KindTokenStale, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindNotEnrolled, http.StatusForbidden},
		{KindForbidden, http.StatusForbidden},
		{KindSessionClosed, http.StatusConflict},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "x")))
		})
	}
}

func TestUserMessageMasksInternal(t *testing.T) {
	assert.Equal(t, "code no longer current", UserMessage(New(KindTokenStale, "code no longer current")))
	assert.Equal(t, "internal error", UserMessage(Wrap(KindInternal, "insert failed", errors.New("pq: connection reset"))))
	assert.Equal(t, "internal error", UserMessage(errors.New("raw store error")))
}
