package pgguardcmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/ardentperf/pg-idle-test/lib/experiment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pgguard.yaml")
	require.NoError(t, os.WriteFile(file, []byte("driver: wire\nworkers: 3\nhold: 5s\nguard: true\n"), 0o600))

	t.Setenv("DATABASE_URL", "postgres://alice@localhost/app")
	t.Setenv("PGGUARD_WORKERS", "7")

	out, err := execute(t, "config", "--config", file, "--hold", "2s")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))

	assert.Equal(t, "wire", got["driver"], "file")
	assert.Equal(t, true, got["guard"], "file")
	assert.Equal(t, 7, got["workers"], "env beats file")
	assert.Equal(t, "2s", got["hold"], "flag beats file")
	assert.Equal(t, "postgres://alice@localhost/app", got["database_url"])
	assert.Equal(t, "500ms", got["worker_timeout"], "default")
	assert.Equal(t, 10, got["max_conns"], "default")
	assert.Equal(t, "poison", got["mode"], "default")
	assert.Equal(t, "5s", got["cancel_timeout"], "default")
}

func TestConfigDefaults(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)

	var got experiment.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))

	want := experiment.DefaultConfig()
	assert.Equal(t, want.Driver, got.Driver)
	assert.Equal(t, want.Mode, got.Mode)
	assert.Equal(t, want.CancelTimeout, got.CancelTimeout)
	assert.Equal(t, want.Workers, got.Workers)
	assert.Equal(t, want.WarmUp, got.WarmUp)
	assert.Equal(t, want.Hold, got.Hold)
	assert.Equal(t, want.MonitorInterval, got.MonitorInterval)
}

func TestConfigFileMissing(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "poison", "--driver", "odbc", "--log-level", "error")
	assert.ErrorIs(t, err, experiment.ErrUnknownDriver)

	_, err = execute(t, "sleep", "--workers", "0", "--log-level", "error")
	assert.ErrorIs(t, err, experiment.ErrInvalidConfig)

	_, err = execute(t, "cancel", "--cancel-timeout", "0s", "--log-level", "error")
	assert.ErrorIs(t, err, experiment.ErrInvalidConfig)
}

func TestNewLogger(t *testing.T) {
	_, _, err := newLogger("loud")
	assert.Error(t, err)

	log, flush, err := newLogger("debug")
	require.NoError(t, err)
	log.Debug("hello")
	flush()
}
