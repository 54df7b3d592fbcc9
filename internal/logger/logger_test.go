package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	assert.Empty(t, rb.GetAll())

	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, rb.GetAll())
	assert.Equal(t, []int{4, 5}, rb.Last(2))
	assert.Equal(t, []int{3, 4, 5}, rb.Last(10))
	assert.Equal(t, 3, rb.Len())

	rb.Clear()
	assert.Equal(t, 0, rb.Len())
	rb.Push(9)
	assert.Equal(t, []int{9}, rb.GetAll())
}

func TestRecentLogs_ParsesEntries(t *testing.T) {
	recent := NewRecentLogs(10)
	log := zerolog.New(recent).With().Timestamp().Logger()

	log.Info().Str("component", "relay").Str("action", "pause").Msg("Command finished")
	_, _ = recent.Write([]byte("not json"))

	entries := recent.Entries(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "relay", entries[0].Component)
	assert.Equal(t, "Command finished", entries[0].Message)
	assert.Equal(t, "pause", entries[0].Fields["action"])
	assert.NotEmpty(t, entries[0].Timestamp)
}

func TestNew_TeesToBufferAndFile(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer

	l := newWithOutput(Config{Level: "debug", Format: "json", Path: dir, BufferSize: 2}, &stdout)
	defer l.Close()

	componentLogger := l.WithComponent("test")
	componentLogger.Info().Msg("first")
	l.Info().Msg("second")
	l.Info().Msg("third")

	assert.Contains(t, stdout.String(), `"component":"test"`)

	entries := l.RecentLogs(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "third", l.RecentLogs(1)[0].Message)

	require.Equal(t, filepath.Join(dir, FileName), l.LogFilePath())
	data, err := os.ReadFile(l.LogFilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "first")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
