package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name     string
		region   string
		endpoint string
		key      string
		want     string
	}{
		{"regional", "eu-west-1", "", "alice/Show.zip", "https://media.s3.eu-west-1.amazonaws.com/alice/Show.zip"},
		{"us-east-1", "us-east-1", "", "alice/Show.zip", "https://media.s3.amazonaws.com/alice/Show.zip"},
		{"empty region", "", "", "alice/Show.zip", "https://media.s3.amazonaws.com/alice/Show.zip"},
		{"custom endpoint", "eu-west-1", "http://minio:9000/", "alice/Show.zip", "http://minio:9000/media/alice/Show.zip"},
		{"escaped", "eu-west-1", "", "alice/My Show #1.zip", "https://media.s3.eu-west-1.amazonaws.com/alice/My%20Show%20%231.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicURL("media", tt.region, tt.endpoint, tt.key))
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "alice/Show.zip", Key("alice", "Show.zip"))
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"index.html":  "text/html",
		"README.TXT":  "text/txt",
		"site.css":    "text/css",
		"cover.png":   "image/png",
		"cover.jpg":   "image/jpg",
		"data.json":   "application/json",
		"app.js":      "application/x-javascript",
		"Show.zip":    "application/zip",
		"movie.mkv":   "video/x-matroska",
		"noextension": "application/octet-stream",
		"file.zzzz":   "application/octet-stream",
	}

	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, ContentType(name))
		})
	}
}

func TestIsAbsent(t *testing.T) {
	respErr := func(code int) error {
		return &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
				Err:      errors.New("http error"),
			},
		}
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed not found", &s3types.NotFound{}, true},
		{"typed no such key", fmt.Errorf("head: %w", &s3types.NoSuchKey{}), true},
		{"api forbidden", &smithy.GenericAPIError{Code: "Forbidden"}, true},
		{"api access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, true},
		{"api throttled", &smithy.GenericAPIError{Code: "SlowDown"}, false},
		{"http 404", respErr(http.StatusNotFound), true},
		{"http 403", respErr(http.StatusForbidden), true},
		{"http 500", respErr(http.StatusInternalServerError), false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAbsent(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("timeout")
	err := &Error{Op: "head", Key: "alice/Show.zip", Err: cause}

	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `head "alice/Show.zip"`)
}

func TestLinks(t *testing.T) {
	modified := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	objects := []Object{
		{Key: "alice/", Size: 0, LastModified: modified},
		{Key: "alice/Show.zip", Size: 1_500_000, LastModified: modified},
		{Key: "alice/movie.mkv", Size: 42, LastModified: modified},
	}

	links := Links("alice", objects)
	require.Len(t, links, 2)
	assert.Equal(t, Link{Key: "alice/Show.zip", Size: "1.5 MB", LastModified: "09/03/2024 - 14:05:07"}, links[0])
	assert.Equal(t, "42 B", links[1].Size)
}

type chunkedClient struct {
	chunk    int
	status   int
	progress func() int64
	seen     []int64
}

// Do drains the body in fixed chunks, sampling reported progress before each read.
func (c *chunkedClient) Do(req *http.Request) (*http.Response, error) {
	buf := make([]byte, c.chunk)
	for {
		c.seen = append(c.seen, c.progress())
		if _, err := req.Body.Read(buf); err != nil {
			break
		}
	}
	return &http.Response{StatusCode: c.status, Body: http.NoBody}, nil
}

func putRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, "http://s3.test/media/alice/Show.zip", strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func TestTransferCounter_CountsWhileBodyIsSent(t *testing.T) {
	var last atomic.Int64
	counter := newTransferCounter(10, func(n, total int64) {
		assert.Equal(t, int64(10), total)
		last.Store(n)
	})
	next := &chunkedClient{chunk: 4, status: http.StatusOK, progress: last.Load}

	_, err := counter.wrap(next).Do(putRequest(t, "abcdefghij"))
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 4, 8, 10}, next.seen)
	assert.Equal(t, int64(10), last.Load())
}

func TestTransferCounter_FailedPartIsNotCountedTwice(t *testing.T) {
	var reports []int64
	counter := newTransferCounter(10, func(n, _ int64) { reports = append(reports, n) })

	failing := counter.wrap(&chunkedClient{chunk: 10, status: http.StatusServiceUnavailable, progress: counter.sent.Load})
	_, err := failing.Do(putRequest(t, "abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.sent.Load())

	ok := counter.wrap(&chunkedClient{chunk: 10, status: http.StatusOK, progress: counter.sent.Load})
	_, err = ok.Do(putRequest(t, "abcdefghij"))
	require.NoError(t, err)

	assert.Equal(t, int64(10), counter.sent.Load())
	for _, n := range reports {
		assert.LessOrEqual(t, n, int64(10))
	}
}

func TestTransferCounter_IgnoresOtherRequests(t *testing.T) {
	called := false
	counter := newTransferCounter(10, func(int64, int64) { called = true })
	next := &chunkedClient{chunk: 4, status: http.StatusOK, progress: counter.sent.Load}

	req, err := http.NewRequest(http.MethodHead, "http://s3.test/media/alice/Show.zip", nil)
	require.NoError(t, err)
	req.Body = io.NopCloser(strings.NewReader("ignored"))

	_, err = counter.wrap(next).Do(req)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestClient_UploadReportsWireProgress(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	const size = 1 << 20
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		assert.Equal(t, "/media/alice/Show.zip", r.URL.Path)
		n, _ := io.Copy(io.Discard, r.Body)
		received.Add(n)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "Show.zip")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0644))

	client, err := New(context.Background(), Config{
		Bucket:    "media",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		PathStyle: true,
	}, zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	var reports []int64
	err = client.Upload(context.Background(), "alice/Show.zip", path, "application/zip", func(n, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(size), total)
		reports = append(reports, n)
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, received.Load(), int64(size))
	require.Greater(t, len(reports), 1, "progress advances while the body is written")
	assert.Less(t, reports[0], int64(size))
	assert.Equal(t, int64(size), reports[len(reports)-1])
}
