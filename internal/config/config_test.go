package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NEORUN_LOG_LEVEL", "NEORUN_LOG_FORMAT", "NEORUN_BUILD_DIR",
		"NEORUN_MODULE_PATH", "NEORUN_MAX_CALL_DEPTH", "NEORUN_EMBED_SOURCE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "neorun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
compiler:
  build_dir: out
  embed_source: true
executor:
  module_paths: [lib, vendor/lib]
  max_call_depth: 64
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format, "unset keys keep defaults")
	assert.Equal(t, "out", cfg.Compiler.BuildDir)
	assert.True(t, cfg.Compiler.EmbedSource)
	assert.Equal(t, []string{"lib", "vendor/lib"}, cfg.Executor.ModulePaths)
	assert.Equal(t, 64, cfg.Executor.MaxCallDepth)
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoad_ValidationError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: loud
compiler:
  extension: nrc
executor:
  max_call_depth: 0
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level: must be one of: debug info warn error")
	assert.Contains(t, err.Error(), `compiler.extension: must start with "."`)
	assert.Contains(t, err.Error(), "executor.max_call_depth: must be at least 1")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("all variables", func(t *testing.T) {
		t.Setenv("NEORUN_LOG_LEVEL", "DEBUG")
		t.Setenv("NEORUN_LOG_FORMAT", "json")
		t.Setenv("NEORUN_BUILD_DIR", "/tmp/nr")
		t.Setenv("NEORUN_MODULE_PATH", "a"+string(os.PathListSeparator)+"b")
		t.Setenv("NEORUN_MAX_CALL_DEPTH", "200")
		t.Setenv("NEORUN_EMBED_SOURCE", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Equal(t, "/tmp/nr", cfg.Compiler.BuildDir)
		assert.Equal(t, []string{"a", "b"}, cfg.Executor.ModulePaths)
		assert.Equal(t, 200, cfg.Executor.MaxCallDepth)
		assert.True(t, cfg.Compiler.EmbedSource)
	})

	t.Run("unparsable numbers are ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEORUN_MAX_CALL_DEPTH", "deep")
		t.Setenv("NEORUN_EMBED_SOURCE", "maybe")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 1000, cfg.Executor.MaxCallDepth)
		assert.False(t, cfg.Compiler.EmbedSource)
	})

	t.Run("override file values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("NEORUN_BUILD_DIR", "from-env")
		path := filepath.Join(t.TempDir(), "c.yaml")
		require.NoError(t, os.WriteFile(path, []byte("compiler:\n  build_dir: from-file\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Compiler.BuildDir)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "neorun.yaml")
	cfg := DefaultConfig()
	cfg.Executor.ModulePaths = []string{"lib"}
	cfg.Compiler.EmbedSource = true
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestArtifactPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("build", "greet.nrc"), cfg.ArtifactPath("src/greet.neo"))
	assert.Equal(t, filepath.Join("build", "noext.nrc"), cfg.ArtifactPath("noext"))
}
