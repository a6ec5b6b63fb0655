package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conf "github.com/bartek5186/billsync/internal/config"
)

// execute odpala root z izolowanym katalogiem aplikacji i bez .env z repo.
func execute(t *testing.T, dir string, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--app-dir", dir, "--env-file", filepath.Join(dir, "none.env")))
	return cmd.Execute()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "DB_KIND", "CHECKPOINT_STORE", "EXPORT_DIR", "DD_API_KEY",
		"UNIFICA_BASE_URL", "UNIFICA_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestPathsCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"paths", "--app-dir", dir})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), filepath.Join(dir, "config.json"))
	assert.Contains(t, out.String(), filepath.Join(dir, "app.log"))
	assert.Contains(t, out.String(), filepath.Join(dir, "unifica_checkpoint.txt"))
}

func TestPathsCommand_ConfigFlag(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"paths", "--app-dir", dir, "--config", "/etc/billsync.json"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Config: /etc/billsync.json")
}

func TestSyncCommand_RejectsUnknownSource(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"sync", "woocommerce", "--app-dir", t.TempDir()})
	assert.Error(t, cmd.Execute())
}

func TestSyncCommand_ValidArgs(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"sync"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lumi", "rdstation", "unifica", "all"}, cmd.ValidArgs)
}

func TestSyncCommand_MissingSourceConfigBeforeDatabase(t *testing.T) {
	clearEnv(t)
	// port 1: połączenie byłoby odrzucone, gdyby ktoś próbował
	t.Setenv("DATABASE_URL", "postgres://u:p@127.0.0.1:1/billsync")
	dir := t.TempDir()

	err := execute(t, dir, "sync", "unifica")
	require.Error(t, err)
	assert.ErrorIs(t, err, conf.ErrMissing)

	var ve *conf.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"UNIFICA_BASE_URL", "UNIFICA_TOKEN"}, ve.Missing)
	assert.NotContains(t, err.Error(), "DB open")
}

func TestSyncCommand_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("UNIFICA_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("UNIFICA_TOKEN", "tok")
	dir := t.TempDir()

	err := execute(t, dir, "sync", "unifica")
	assert.ErrorIs(t, err, conf.ErrMissing)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.NoFileExists(t, filepath.Join(dir, "billsync.db"))
}

func TestExportCommand_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	err := execute(t, dir, "export", "--out", dir)
	assert.ErrorIs(t, err, conf.ErrMissing)
	assert.NoFileExists(t, filepath.Join(dir, "billsync.db"))
}

func TestExportCommand_LocalSQLiteOnlyWhenExplicit(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_KIND", "sqlite-pure")
	dir := t.TempDir()

	// lokalna baza nie ma widoku analytics_completo, ale powstaje jawnie
	err := execute(t, dir, "export", "--out", dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, conf.ErrMissing)
	assert.FileExists(t, filepath.Join(dir, "billsync.db"))
}
