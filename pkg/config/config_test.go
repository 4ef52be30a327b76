package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"its-hmny.dev/hack-toolchain/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.True(t, cfg.Translator.EmitBootstrap)
	assert.Equal(t, ".", cfg.Debug.Folder)
	assert.False(t, cfg.Debug.ExportAST)
	assert.False(t, cfg.Debug.PrintAST)
	assert.False(t, cfg.Debug.PrintIR)
}

func TestLoadFromMissingFile(t *testing.T) {
	// A missing config file is not an error, the defaults apply
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[translator]
emit_bootstrap = false

[debug]
folder = "/tmp/debug"
print_ir = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)

	assert.False(t, cfg.Translator.EmitBootstrap)
	assert.Equal(t, "/tmp/debug", cfg.Debug.Folder)
	assert.True(t, cfg.Debug.PrintIR)
	// Untouched settings keep their default values
	assert.False(t, cfg.Debug.PrintAST)
}

func TestLoadFromMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not a toml {"), 0o644))

	_, err := config.LoadFrom(path)
	assert.Error(t, err)
}
