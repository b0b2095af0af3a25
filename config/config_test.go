package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghyeongl/drivemirror/sync"
)

// isolateXDG points every XDG base directory into a temp dir.
func isolateXDG(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Cleanup(xdg.Reload) // runs after the env vars are restored
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(dir, "etc"))
	xdg.Reload()
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolateXDG(t)

	cfg, err := Load(New(""))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data", AppName, "index.db"), cfg.IndexPath)
	assert.Equal(t, filepath.Join(dir, "state", AppName, "logs"), cfg.Log.Dir)
	assert.Equal(t, filepath.Join(dir, "config", AppName, "token"), cfg.Graph.TokenFile)
	assert.Equal(t, ProviderGraph, cfg.Provider)
	assert.Equal(t, sync.DefaultWorkers, cfg.Workers)
	assert.Equal(t, sync.DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, sync.DefaultServeInterval, cfg.Serve.Interval)
	assert.True(t, cfg.Serve.RefreshHashes)
	assert.Equal(t, sync.DefaultHashCommand, cfg.Hasher.Command)

	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "OneDrive-mirror"), cfg.LocalRoot)
}

func TestLoad_FromFile(t *testing.T) {
	isolateXDG(t)
	path := writeConfig(t, `
provider: s3
local_root: /srv/mirror
workers: 8
request_timeout: 5s
min_free: 2GiB
log:
  level: debug
s3:
  bucket: photos
  prefix: camera/
  path_style: true
serve:
  interval: 1m
  refresh_hashes: false
`)

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, ProviderS3, cfg.Provider)
	assert.Equal(t, "/srv/mirror", cfg.LocalRoot)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "photos", cfg.S3.Bucket)
	assert.Equal(t, "camera/", cfg.S3.Prefix)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, time.Minute, cfg.Serve.Interval)
	assert.False(t, cfg.Serve.RefreshHashes)

	n, err := cfg.MinFreeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(2<<30), n)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateXDG(t)
	t.Setenv("DRIVEMIRROR_WORKERS", "2")
	t.Setenv("DRIVEMIRROR_PROVIDER", "dir")
	t.Setenv("DRIVEMIRROR_DIR_ROOT", "/data/source")

	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, ProviderDir, cfg.Provider)
	assert.Equal(t, "/data/source", cfg.Dir.Root)
}

func TestLoad_ExpandsHome(t *testing.T) {
	isolateXDG(t)
	path := writeConfig(t, "local_root: ~/mirror\nindex_path: ~/idx.db\n")

	cfg, err := Load(New(path))
	require.NoError(t, err)
	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mirror"), cfg.LocalRoot)
	assert.Equal(t, filepath.Join(home, "idx.db"), cfg.IndexPath)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	isolateXDG(t)
	_, err := Load(New(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown provider", "provider: ftp\n", "unknown provider"},
		{"s3 without bucket", "provider: s3\n", "s3.bucket is required"},
		{"dir without root", "provider: dir\n", "dir.root is required"},
		{"zero workers", "workers: 0\n", "workers must be at least 1"},
		{"bad min_free", "min_free: lots\n", "min_free"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateXDG(t)
			_, err := Load(New(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIgnorePath(t *testing.T) {
	dir := isolateXDG(t)
	cfg := &Config{}
	assert.Equal(t, filepath.Join(dir, "config", AppName, sync.DefaultIgnoreFile), cfg.IgnorePath(sync.DefaultIgnoreFile))

	cfg.IgnoreFile = "/etc/mirror.ignore"
	assert.Equal(t, "/etc/mirror.ignore", cfg.IgnorePath(sync.DefaultIgnoreFile))
}
