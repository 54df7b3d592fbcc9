package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Deluge, cfg.Deluge)
	assert.Equal(t, def.Poll, cfg.Poll)
	assert.Equal(t, def.Downloads, cfg.Downloads)
	assert.Equal(t, "public-read", cfg.Storage.ACL)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Empty(t, cfg.Users)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
deluge:
  timeout: 10s
  workers: 2
poll:
  interval: 2s
storage:
  bucket: media
  region: eu-west-1
users:
  - alice
  - bob
`)
	t.Setenv("SEEDSHARE_SERVER_PORT", "7070")
	t.Setenv("SEEDSHARE_STORAGE_ENDPOINT", "http://minio:9000")
	t.Setenv("SEEDSHARE_SERVER_ADMIN_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
	assert.Equal(t, 10*time.Second, cfg.Deluge.Timeout)
	assert.Equal(t, 2, cfg.Deluge.Workers)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "media", cfg.Storage.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.Storage.Endpoint)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Users)
}

func TestLoad_UsersFromEnv(t *testing.T) {
	t.Setenv("SEEDSHARE_USERS", "alice, bob,alice")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Users)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "downloads:\n  home_template: /srv/downloads\n"))
	assert.ErrorContains(t, err, "{user}")

	_, err = Load(writeConfig(t, "server:\n  port: [\n"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestNormalizeUsers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalizeUsers([]string{"a,b", " c ", "", "a"}))
	assert.Nil(t, normalizeUsers(nil))
}

func TestDump_LoadsBack(t *testing.T) {
	cfg := Default()
	cfg.Deluge.Timeout = 45 * time.Second
	cfg.Storage.Bucket = "media"
	cfg.Users = []string{"alice"}

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	assert.Contains(t, buf.String(), "timeout: 45s")
	assert.Contains(t, buf.String(), "/home/{user}/downloads")

	loaded, err := Load(writeConfig(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg.Deluge, loaded.Deluge)
	assert.Equal(t, cfg.Storage, loaded.Storage)
	assert.Equal(t, cfg.Users, loaded.Users)
}
