package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
displayFormat = "hex"
dereferencePointers = false
evaluationTimeout = 2.5
sourceLanguages = ["cpp", "rust"]
consoleMode = "evaluate"
`), 0o644))

	settings, err := loadSettings(path)
	require.NoError(t, err)
	require.NotNil(t, settings.DisplayFormat)
	assert.Equal(t, "hex", *settings.DisplayFormat)
	require.NotNil(t, settings.DereferencePointers)
	assert.False(t, *settings.DereferencePointers)
	require.NotNil(t, settings.EvaluationTimeout)
	assert.Equal(t, 2.5, *settings.EvaluationTimeout)
	assert.Equal(t, []string{"cpp", "rust"}, settings.SourceLanguages)
	require.NotNil(t, settings.ConsoleMode)
	assert.Equal(t, "evaluate", *settings.ConsoleMode)
}

func TestLoadSettingsEmptyPath(t *testing.T) {
	settings, err := loadSettings("")
	require.NoError(t, err)
	assert.Nil(t, settings.DisplayFormat)
}

func TestLoadSettingsErrors(t *testing.T) {
	_, err := loadSettings(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("displayFormat = ["), 0o644))
	_, err = loadSettings(bad)
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	cmd := NewRootCmd("kestrel")
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["terminal-agent"])
	assert.True(t, names["version"])
}
