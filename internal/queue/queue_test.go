package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	body, err := json.Marshal(CheckInEvent{
		RecordID:  "rec-1",
		SessionID: "sess-1",
		CourseID:  "course-1",
		StudentID: "student-1",
	})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeCheckIn, Body: body}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, TypeCheckIn, msg.Type)
		var evt CheckInEvent
		require.NoError(t, json.Unmarshal(msg.Body, &evt))
		assert.Equal(t, "sess-1", evt.SessionID)
		assert.Equal(t, "student-1", evt.StudentID)
	case <-ctx.Done():
		t.Fatal("no message before timeout")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, Message{Type: TypeCheckIn}))
	cancel()
	// Queue full and context gone: publish must not block forever.
	err := q.Publish(ctx, Message{Type: TypeCheckIn})
	assert.ErrorIs(t, err, context.Canceled)
}
