package filesystem

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedshare/seedshare/internal/testutil"
)

func TestSanitizeUser(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{" alice ", "alice", false},
		{"alice;rm -rf /", "alice", false},
		{"bob/../root", "bob", false},
		{"../etc", "", true},
		{"", "", true},
		{"|cat", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeUser(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidUser)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeName(t *testing.T) {
	got, err := SanitizeName("Show.S01 [1080p]")
	require.NoError(t, err)
	assert.Equal(t, "Show.S01 [1080p]", got)

	got, err = SanitizeName("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "....etcpasswd", got)

	_, err = SanitizeName("..")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = SanitizeName("/")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLayout(t *testing.T) {
	l := NewLayout("")

	root, err := l.DownloadRoot("alice")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/downloads", root)

	src, err := l.SourcePath("alice", "Show.S01")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/downloads/Show.S01", src)

	custom := NewLayout("/srv/{user}/data/")
	root, err = custom.DownloadRoot("bob")
	require.NoError(t, err)
	assert.Equal(t, "/srv/bob/data", root)

	_, err = l.SourcePath("", "Show")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

const dfOutput = `Filesystem     1024-blocks      Used Available Capacity Mounted on
/dev/sda1        102400000  51200000  2048000      97% /home
`

func TestSpaceChecker(t *testing.T) {
	var gotPath string
	df := func(ctx context.Context, path string) ([]byte, error) {
		gotPath = path
		return []byte(dfOutput), nil
	}

	dir := t.TempDir()
	s := NewSpaceChecker(1024, df, testutil.NewTestLogger(t))

	free, err := s.FreeSpace(context.Background(), filepath.Join(dir, "not", "created"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2048000*1024), free)
	assert.Equal(t, dir, gotPath, "nearest existing ancestor is queried")

	ok, err := s.HasSpace(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)

	strict := NewSpaceChecker(4096, df, testutil.NopLogger())
	ok, err = strict.HasSpace(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpaceChecker_Errors(t *testing.T) {
	failing := NewSpaceChecker(1, func(context.Context, string) ([]byte, error) {
		return nil, errors.New("df: not found")
	}, testutil.NopLogger())
	_, err := failing.HasSpace(context.Background(), "/")
	assert.Error(t, err)

	garbage := NewSpaceChecker(1, func(context.Context, string) ([]byte, error) {
		return []byte("nonsense"), nil
	}, testutil.NopLogger())
	_, err = garbage.FreeSpace(context.Background(), "/")
	assert.ErrorIs(t, err, errUnparsableDF)
}
