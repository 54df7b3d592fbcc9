package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedshare/seedshare/internal/downloader"
	"github.com/seedshare/seedshare/internal/downloader/deluge"
	"github.com/seedshare/seedshare/internal/downloader/types"
	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/logger"
	"github.com/seedshare/seedshare/internal/progress"
	"github.com/seedshare/seedshare/internal/storage"
	"github.com/seedshare/seedshare/internal/testutil"
)

type fakeLinks struct {
	mu      sync.Mutex
	objects []storage.Object
	deleted []string
	listErr error
}

func (f *fakeLinks) List(_ context.Context, prefix string) ([]storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.Object
	for _, o := range f.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeLinks) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeLinks) PublicURL(key string) string {
	return storage.PublicURL("media", "eu-west-1", "", key)
}

type fakeSpace struct{ ok bool }

func (f fakeSpace) HasSpace(context.Context, string) (bool, error) { return f.ok, nil }

type fakeLogs struct{}

func (fakeLogs) RecentLogs(limit int) []logger.LogEntry {
	entries := []logger.LogEntry{{Message: "one"}, {Message: "two"}}
	if limit > 0 && limit < len(entries) {
		return entries[len(entries)-limit:]
	}
	return entries
}

func (fakeLogs) LogFilePath() string { return "" }

type testServer struct {
	*Server
	runner *testutil.FakeRunner
	links  *fakeLinks
	home   string
}

func setupTestServer(t *testing.T, space bool) *testServer {
	t.Helper()
	log := testutil.NewTestLogger(t)

	runner := testutil.NewFakeRunner()
	relay := deluge.NewRelay(deluge.Config{}, runner, log)
	svc := downloader.NewService(relay, log)

	home := t.TempDir()
	links := &fakeLinks{objects: []storage.Object{
		{Key: "alice/", Size: 0},
		{Key: "alice/movie.zip", Size: 1500000, LastModified: time.Now()},
		{Key: "alicia/other.zip", Size: 10},
	}}

	uploads := progress.NewManager(time.Minute, log)
	uploads.Start("u1", "alice", "movie.zip", nil).Update(50, 100)

	hs := health.NewService(log)
	hs.AddProbe(health.Probe{Category: health.CategoryStorage, ID: "bucket", Name: "Bucket", Check: func(context.Context) error { return nil }})

	srv := NewServer(Dependencies{
		Users:     []string{"alice"},
		Layout:    filesystem.NewLayout(filepath.Join(home, "{user}", "downloads")),
		Downloads: svc,
		Space:     fakeSpace{ok: space},
		Identity:  runner,
		Links:     links,
		Health:    hs,
		Uploads:   uploads,
		Logs:      fakeLogs{},

		AdminToken: testAdminToken,
	}, log)

	return &testServer{Server: srv, runner: runner, links: links, home: home}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.Echo().ServeHTTP(rec, req)
	return rec
}

const testAdminToken = "s3cret"

func (ts *testServer) admin(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	ts.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorPayload {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string            `json:"status"`
		Checks   []json.RawMessage `json:"checks"`
		Sessions int               `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Checks, 1)
	assert.Equal(t, 0, resp.Sessions)
}

func TestCheckUser(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.runner.On("alice", testutil.CLIResult{Stdout: "uid=1000(alice) gid=1000(alice)\n"})

	rec := ts.do(t, http.MethodGet, "/api/users/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "uid=1000(alice) gid=1000(alice)", resp["output"])
	assert.Equal(t, []string{"alice"}, ts.runner.Calls())
}

func TestCheckUser_NoSystemAccount(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.runner.On("alice", testutil.CLIResult{Stderr: "id: 'alice': no such user", ExitCode: 1})

	rec := ts.do(t, http.MethodGet, "/api/users/alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).Status)
}

func TestUnregisteredUser(t *testing.T) {
	ts := setupTestServer(t, true)

	for _, path := range []string{"/api/users/bob", "/api/links/bob", "/ws/bob"} {
		rec := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, types.ErrUnauthorized.Error(), decodeError(t, rec).Message, path)
	}
	assert.Empty(t, ts.runner.Calls())
}

func TestAddDownload(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.runner.On("add", testutil.CLIResult{Stdout: "Torrent added!\n"})

	rec := ts.do(t, http.MethodPost, "/api/users/alice/downloads", `{"magnetLink":"magnet:?xt=urn:btih:abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	want := "add -p " + filepath.Join(ts.home, "alice", "downloads") + " magnet:?xt=urn:btih:abc"
	assert.Equal(t, []string{want}, ts.runner.Calls())
}

func TestAddDownload_NoSpace(t *testing.T) {
	ts := setupTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/users/alice/downloads", `{"magnetLink":"magnet:?xt=urn:btih:abc"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.ErrNoSpace.Error(), decodeError(t, rec).Message)
	assert.Empty(t, ts.runner.Calls())
}

func TestAddDownload_BadInput(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.do(t, http.MethodPost, "/api/users/alice/downloads", `{"magnetLink":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/users/alice/downloads", `{"magnetLink":"http://example.com/x.torrent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.runner.Calls())
}

func TestAddDownload_CliFailure(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.runner.On("add", testutil.CLIResult{Stderr: "Failed to connect to daemon", ExitCode: 1})

	rec := ts.do(t, http.MethodPost, "/api/users/alice/downloads", `{"magnetLink":"magnet:?xt=urn:btih:abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "Failed to connect to daemon")
}

func TestListLinks(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/api/links/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var links []storage.Link
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	require.Len(t, links, 1)
	assert.Equal(t, "alice/movie.zip", links[0].Key)
	assert.Equal(t, "1.5 MB", links[0].Size)
}

func TestListLinks_StorageError(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.links.listErr = &storage.Error{Op: "list", Key: "alice/", Err: errors.New("boom")}

	rec := ts.do(t, http.MethodGet, "/api/links/alice", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetLink(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/api/links/alice/movie.zip", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var url string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &url))
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com/alice/movie.zip", url)
}

func TestDeleteLink(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.do(t, http.MethodDelete, "/api/links/alice/movie.zip", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"alice/movie.zip"}, ts.links.deleted)

	rec = ts.do(t, http.MethodDelete, "/api/links/alice/..", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinks_StorageDisabled(t *testing.T) {
	log := testutil.NopLogger()
	srv := NewServer(Dependencies{Users: []string{"alice"}}, log)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/links/alice", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSystemEndpoints(t *testing.T) {
	ts := setupTestServer(t, true)

	rec := ts.admin(t, "/api/system/logs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []logger.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "two", logs[0].Message)

	rec = ts.admin(t, "/api/system/logs?limit=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, "/api/system/logs/download")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.admin(t, "/api/system/uploads")
	require.Equal(t, http.StatusOK, rec.Code)
	var uploads []progress.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploads))
	require.Len(t, uploads, 1)
	assert.Equal(t, "movie.zip", uploads[0].FileName)
	assert.Equal(t, 50.0, uploads[0].Progress)

	rec = ts.admin(t, "/api/system/sessions")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSystemEndpoints_RequireAdmin(t *testing.T) {
	ts := setupTestServer(t, true)

	for _, path := range []string{
		"/api/system/logs",
		"/api/system/logs/download",
		"/api/system/uploads",
		"/api/system/sessions",
	} {
		rec := ts.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/system/logs/download", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer wrong")
	rec := httptest.NewRecorder()
	ts.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	ts := setupTestServer(t, true)
	rec := ts.admin(t, "/api/system/uploads")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
