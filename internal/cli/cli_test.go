package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devConfig = `
dev_mode: true
store: memory
log_level: error
activity:
  driver: none
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(devConfig), 0644))

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestProcessPrintsSummary(t *testing.T) {
	out, err := run(t, "process")
	require.NoError(t, err)
	assert.Contains(t, out, "claimed=0 processed=0 sent=0 errors=0")
}

func TestProcessJSON(t *testing.T) {
	out, err := run(t, "process", "--json")
	require.NoError(t, err)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.NotEmpty(t, summary["run_id"])
	assert.EqualValues(t, 0, summary["claimed"])
}

func TestStatus(t *testing.T) {
	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "due")
	assert.Contains(t, out, "overdue")
	assert.Contains(t, out, "claimed")
}

func TestSweep(t *testing.T) {
	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "released 0 expired claims\n", out)
}

func TestRunsRequiresArchive(t *testing.T) {
	_, err := run(t, "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestRunsRejectsBadDay(t *testing.T) {
	_, err := run(t, "runs", "--day", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "explode")
	assert.Error(t, err)
}
