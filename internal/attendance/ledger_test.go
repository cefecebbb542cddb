package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	sessions int
	counts   map[string]int
	series   []SessionPoint
}

func (f fakeStats) SessionCount(context.Context, string) (int, error) {
	return f.sessions, nil
}

func (f fakeStats) RecordCount(_ context.Context, _, studentID string) (int, error) {
	return f.counts[studentID], nil
}

func (f fakeStats) RecordCountsByStudent(context.Context, string) (map[string]int, error) {
	return f.counts, nil
}

func (f fakeStats) SessionSeries(context.Context, string) ([]SessionPoint, error) {
	return f.series, nil
}

type fakeLister []string

func (f fakeLister) EnrolledStudents(context.Context, string) ([]string, error) {
	return f, nil
}

func TestAbsenceCount(t *testing.T) {
	tests := []struct {
		name     string
		sessions int
		records  int
		want     int
	}{
		{"five sessions three attended", 5, 3, 2},
		{"perfect attendance", 5, 5, 0},
		{"no sessions yet", 0, 0, 0},
		{"inconsistent data clamps to zero", 2, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger(fakeStats{
				sessions: tt.sessions,
				counts:   map[string]int{"student-1": tt.records},
			}, fakeLister{"student-1"})

			got, err := ledger.AbsenceCount(context.Background(), "course-1", "student-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCourseStats(t *testing.T) {
	opened := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	series := []SessionPoint{
		{SessionID: "sess-1", OpenedAt: opened, Present: 2},
		{SessionID: "sess-2", OpenedAt: opened.AddDate(0, 0, 7), Present: 1},
	}
	ledger := NewLedger(fakeStats{
		sessions: 4,
		counts:   map[string]int{"student-1": 3, "student-2": 1},
		series:   series,
	}, fakeLister{"student-1", "student-2", "student-3"})

	stats, err := ledger.CourseStats(context.Background(), "course-1")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalSessions)
	assert.Equal(t, series, stats.Series)
	require.Len(t, stats.Students, 3)

	assert.Equal(t, StudentStats{StudentID: "student-1", Present: 3, Absent: 1, Rate: 75}, stats.Students[0])
	assert.Equal(t, StudentStats{StudentID: "student-2", Present: 1, Absent: 3, Rate: 25}, stats.Students[1])
	// Never scanned: counts simply have no entry for them.
	assert.Equal(t, StudentStats{StudentID: "student-3", Present: 0, Absent: 4, Rate: 0}, stats.Students[2])
}

func TestCourseStatsNoSessions(t *testing.T) {
	ledger := NewLedger(fakeStats{}, fakeLister{"student-1"})

	stats, err := ledger.CourseStats(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSessions)
	assert.Equal(t, StudentStats{StudentID: "student-1"}, stats.Students[0])
}
