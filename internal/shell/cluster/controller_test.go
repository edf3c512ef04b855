package cluster

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/deployer/internal/shell/targets"
)

var (
	_ targets.Controller          = (*ExecController)(nil)
	_ targets.ClusterConfigurator = (*Configurator)(nil)
)

// fakeRuntime installs a control script that tracks state in a marker file.
func fakeRuntime(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("control scripts are POSIX shell")
	}
	home := t.TempDir()
	script := `#!/bin/sh
cd "$(dirname "$0")/.."
case "$1" in
  start)  touch running ;;
  stop)   rm -f running ;;
  status) test -f running ;;
  *)      echo "unknown action $1"; exit 2 ;;
esac
`
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "runtime"), []byte(script), 0o755))
	return home
}

func TestExecController_Lifecycle(t *testing.T) {
	home := fakeRuntime(t)
	c := NewExecController("", nil)
	ctx := context.Background()

	running, err := c.IsRunning(ctx, home)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, c.EnsureRunning(ctx, home))
	running, err = c.IsRunning(ctx, home)
	require.NoError(t, err)
	assert.True(t, running)

	// Already running: no second start.
	require.NoError(t, c.EnsureRunning(ctx, home))

	require.NoError(t, c.Stop(ctx, home))
	running, _ = c.IsRunning(ctx, home)
	assert.False(t, running)
}

func TestExecController_MissingScript(t *testing.T) {
	c := NewExecController("bin/none", nil)

	_, err := c.IsRunning(context.Background(), t.TempDir())
	assert.Error(t, err)
	assert.Error(t, c.EnsureRunning(context.Background(), t.TempDir()))
}
