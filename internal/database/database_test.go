package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURLPrefersEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/reviewdeck")

	url, err := ResolveURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/reviewdeck", url)
}

func TestResolveURLReadsDotEnvFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	env := "# local settings\nOTHER=ignored\nDATABASE_URL=\"postgres://file-host/reviewdeck\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Chdir(dir)

	url, err := ResolveURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file-host/reviewdeck", url)
}

func TestResolveURLWalksUpToParentDotEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	env := "DATABASE_URL=postgres://parent-host/reviewdeck\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	url, err := ResolveURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://parent-host/reviewdeck", url)
}

func TestResolveURLEmptyDotEnvValueFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_URL=\n"), 0o600))
	t.Chdir(dir)

	_, err := ResolveURL()
	assert.Error(t, err)
}
