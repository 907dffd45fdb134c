package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRegistryCommand(t *testing.T) {
	out, err := execute(t, "registry", "purchase_order")
	require.NoError(t, err)

	assert.Contains(t, out, "PURCHASE_ORDER (initial DRAFT)")
	assert.Contains(t, out, "PENDING_APPROVAL")
	assert.NotContains(t, out, "TENDER")
}

func TestRegistryCommand_RoleFilter(t *testing.T) {
	out, err := execute(t, "registry", "payment", "--role", "finance")
	require.NoError(t, err)
	assert.Contains(t, out, "PROCESSED")

	out, err = execute(t, "registry", "payment", "--role", "vendor")
	require.NoError(t, err)
	assert.NotContains(t, out, "PROCESSED")
}

func TestRegistryCommand_UnknownType(t *testing.T) {
	_, err := execute(t, "registry", "widget")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "procurement.db")
	cfgPath := writeConfig(t, "database:\n  driver: sqlite\n  path: "+dbPath+"\n")

	out, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 migration(s)")

	out, err = execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0 migration(s)")
}

func TestMigrateCommand_MemoryDriver(t *testing.T) {
	cfgPath := writeConfig(t, "database:\n  driver: memory\n")

	_, err := execute(t, "migrate", "--config", cfgPath)
	assert.ErrorContains(t, err, "requires the sqlite driver")
}

func TestTransitionCommand_NotFound(t *testing.T) {
	cfgPath := writeConfig(t, "database:\n  driver: memory\nmetrics:\n  enabled: false\n")

	_, err := execute(t, "transition", "PO-404", "submit",
		"--config", cfgPath, "--actor", "u-1", "--role", "buyer", "--attempt", "a-1")
	assert.Error(t, err)
}

func TestTransitionCommand_RequiresActor(t *testing.T) {
	_, err := execute(t, "transition", "PO-1", "submit", "--role", "buyer")
	assert.ErrorContains(t, err, "actor")
}

func TestSweepCommand_EmptyStore(t *testing.T) {
	cfgPath := writeConfig(t, "database:\n  driver: memory\n")

	out, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "OverdueSweeper: 0")
}
