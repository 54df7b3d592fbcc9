package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedshare/seedshare/internal/testutil"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(testutil.NewTestLogger(t))
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestEvery_FiresImmediately(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.Every("session-1", "poll", time.Hour, func() { runs.Add(1) }))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Has("session-1"))
}

func TestEvery_RejectsDuplicateID(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Every("dup", "poll", time.Hour, func() {}))
	err := s.Every("dup", "poll", time.Hour, func() {})
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
}

func TestCancel_StopsFurtherTicks(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.Every("tick", "poll", 20*time.Millisecond, func() { runs.Add(1) }))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Cancel("tick"))
	assert.False(t, s.Has("tick"))

	settled := runs.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), settled+1, "at most one in-flight tick may finish after cancel")

	assert.False(t, s.Cancel("tick"), "second cancel is a no-op")
}

func TestListTasks(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Every("a", "poll a", time.Hour, func() {}))
	require.NoError(t, s.Every("b", "poll b", time.Hour, func() {}))

	assert.Eventually(t, func() bool {
		for _, task := range s.ListTasks() {
			if task.Runs == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	tasks := s.ListTasks()
	assert.Len(t, tasks, 2)
}
