package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghyeongl/drivemirror/sync"
)

type cliEnv struct {
	source string
	mirror string
	config string
}

// setupCLI writes a config using the dir provider over a small source tree.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		source: filepath.Join(dir, "source"),
		mirror: filepath.Join(dir, "mirror"),
		config: filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(env.source, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.source, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.source, "docs", "a.txt"), []byte("a"), 0o644))

	content := fmt.Sprintf(`provider: dir
index_path: %s
local_root: %s
ignore_file: %s
log:
  dir: ""
  level: error
hasher:
  disable_external: true
dir:
  root: %s
`, filepath.Join(dir, "index.db"), env.mirror, filepath.Join(dir, "none.ignore"), env.source)
	require.NoError(t, os.WriteFile(env.config, []byte(content), 0o644))
	return env
}

// resetFlags undoes flag values left over from an earlier run; rootCmd is
// shared by every test.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue) //nolint:errcheck
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--config", env.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSyncAll(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, env, "sync-all")
	require.NoError(t, err)
	assert.Contains(t, out, "discover: listed=2 inserted=3")
	assert.Contains(t, out, "reconcile-missing: selected=2 succeeded=2 failed=0 skipped=0")
	assert.Contains(t, out, "sync-outstanding: selected=2 succeeded=2 failed=0 skipped=0")

	got, err := os.ReadFile(filepath.Join(env.mirror, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	// A second pass has nothing left to download.
	out, err = runCLI(t, env, "sync-all")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-outstanding: selected=0")
}

func TestStepCommands(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, env, "discover", "--root", "")
	require.NoError(t, err)
	assert.Contains(t, out, "inserted=3")

	out, err = runCLI(t, env, "sync-new")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-new: selected=2 succeeded=2")

	out, err = runCLI(t, env, "reconcile-all")
	require.NoError(t, err)
	assert.Contains(t, out, "reconcile-all: selected=2 succeeded=2")

	require.NoError(t, os.WriteFile(filepath.Join(env.mirror, "top.txt"), []byte("edited"), 0o644))
	out, err = runCLI(t, env, "rehash-local")
	require.NoError(t, err)
	assert.Contains(t, out, "rehash-local: selected=1 succeeded=1 failed=0 skipped=0")

	out, err = runCLI(t, env, "rehash-local", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "rehash-local: selected=2 succeeded=2 failed=0 skipped=0")

	out, err = runCLI(t, env, "sync-outstanding")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-outstanding: selected=1 succeeded=1")
}

func TestRehashLocal_WithoutRemoteCredentials(t *testing.T) {
	env := setupCLI(t)
	_, err := runCLI(t, env, "sync-all")
	require.NoError(t, err)

	t.Setenv("DRIVEMIRROR_GRAPH_TOKEN_FILE", filepath.Join(t.TempDir(), "missing-token"))
	_, err = runCLI(t, env, "sync-new", "-p", "graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read token")

	out, err := runCLI(t, env, "rehash-local", "--all", "-p", "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "rehash-local: selected=2 succeeded=2 failed=0 skipped=0")
}

func TestSyncAll_Refresh(t *testing.T) {
	env := setupCLI(t)
	_, err := runCLI(t, env, "sync-all")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(env.source, "docs", "a.txt"), []byte("a, edited upstream"), 0o644))

	out, err := runCLI(t, env, "sync-all")
	require.NoError(t, err)
	assert.Contains(t, out, "sync-outstanding: selected=0")

	out, err = runCLI(t, env, "sync-all", "--refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "reconcile-all: selected=2 succeeded=2")
	assert.Contains(t, out, "sync-outstanding: selected=1 succeeded=1")

	got, err := os.ReadFile(filepath.Join(env.mirror, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a, edited upstream", string(got))
}

func TestStatus(t *testing.T) {
	env := setupCLI(t)
	_, err := runCLI(t, env, "discover")
	require.NoError(t, err)
	_, err = runCLI(t, env, "reconcile-missing")
	require.NoError(t, err)

	out, err := runCLI(t, env, "status", "-o", "json", "--list=true")
	require.NoError(t, err)
	var s sync.DiffSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, 2, s.CloudOnly)
	assert.Equal(t, []string{"docs/a.txt", "top.txt"}, s.CloudOnlyPaths)

	out, err = runCLI(t, env, "status", "-o", "yaml", "--list=false")
	require.NoError(t, err)
	assert.Contains(t, out, "cloud_only: 2")
	assert.NotContains(t, out, "cloud_only_paths")

	out, err = runCLI(t, env, "status", "-o", "text", "--list=true")
	require.NoError(t, err)
	assert.Contains(t, out, "cloud only: 2")
	assert.Contains(t, out, "  docs/a.txt")

	_, err = runCLI(t, env, "status", "-o", "xml")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, env, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: dir")
	assert.Contains(t, out, "local_root: "+env.mirror)
	assert.NotContains(t, out, "secret_key")
}

func TestFlagOverridesConfig(t *testing.T) {
	env := setupCLI(t)
	other := filepath.Join(t.TempDir(), "elsewhere")

	out, err := runCLI(t, env, "--local-root", other, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "local_root: "+other)
}

func TestImportLegacy_MissingTable(t *testing.T) {
	env := setupCLI(t)

	_, err := runCLI(t, env, "import-legacy", filepath.Join(t.TempDir(), "empty.db"))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitError, exitCode(fmt.Errorf("boom")))
	assert.Equal(t, exitUnauthorized, exitCode(fmt.Errorf("list: %w", sync.ErrUnauthorized)))
}
