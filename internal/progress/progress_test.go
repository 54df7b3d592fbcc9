package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedshare/seedshare/internal/testutil"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 33.33, Percent(1, 3))
	assert.Equal(t, 66.67, Percent(2, 3))
	assert.Equal(t, 100.0, Percent(10, 10))
	assert.Equal(t, 100.0, Percent(11, 10))
}

func TestTracker_UpdateEmitsProgress(t *testing.T) {
	m := NewManager(0, testutil.NewTestLogger(t))
	emitter := &testutil.RecordingEmitter{}

	tr := m.Start("u1", "alice", "Show.zip", emitter)
	tr.Update(1, 4)
	tr.Update(3, 4)

	events := emitter.Named(EventProgress)
	require.Len(t, events, 2)
	assert.Equal(t, Update{FileName: "Show.zip", Progress: 25}, events[0].Payload)
	assert.Equal(t, Update{FileName: "Show.zip", Progress: 75}, events[1].Payload)

	u, ok := m.Get("u1")
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, u.Status)
	assert.Equal(t, int64(3), u.Transferred)
}

func TestManager_ActiveOrder(t *testing.T) {
	m := NewManager(time.Hour, testutil.NopLogger())
	m.Start("a", "alice", "a.zip", nil)
	time.Sleep(time.Millisecond)
	m.Start("b", "bob", "b.zip", nil)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)
}

func TestTracker_FinishRemovesWithoutRetention(t *testing.T) {
	m := NewManager(0, testutil.NopLogger())
	emitter := &testutil.RecordingEmitter{}

	tr := m.Start("u1", "alice", "Show.zip", emitter)
	tr.Complete()
	assert.Empty(t, m.Active())

	tr.Update(1, 2)
	assert.Empty(t, emitter.Events(), "updates after finish are dropped")
}

func TestTracker_FailRetained(t *testing.T) {
	m := NewManager(time.Hour, testutil.NopLogger())

	tr := m.Start("u1", "alice", "Show.zip", nil)
	tr.Fail("storage unavailable")

	u, ok := m.Get("u1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, u.Status)
	assert.Equal(t, "storage unavailable", u.Error)
	assert.NotNil(t, u.CompletedAt)
}
