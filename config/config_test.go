package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAreValid(t *testing.T) {
	cfg, err := Load("", "RTCORE")
	require.NoError(t, err)
	assert.Equal(t, "rtcore", cfg.Service.Name)
	assert.Equal(t, "zstd", cfg.Store.Compression)
	assert.Equal(t, 4, cfg.Coordinator.Concurrency)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("RTCORE_STORE_PATH", "/var/lib/rtcore/store")
	t.Setenv("RTCORE_COORDINATOR_CONCURRENCY", "16")

	cfg, err := Load("", "RTCORE")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rtcore/store", cfg.Store.Path)
	assert.Equal(t, 16, cfg.Coordinator.Concurrency)
}

func TestLoadFileBeatsDefaultsEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  compression: snappy\n  path: /file/path\n"), 0o644))

	t.Setenv("RTCORE_STORE_PATH", "/env/path")

	cfg, err := Load(path, "RTCORE")
	require.NoError(t, err)
	assert.Equal(t, "snappy", cfg.Store.Compression, "file beats defaults")
	assert.Equal(t, "/env/path", cfg.Store.Path, "env beats file")
}

func TestLoadRejectsInvalidCompression(t *testing.T) {
	t.Setenv("RTCORE_STORE_COMPRESSION", "lz4")
	_, err := Load("", "RTCORE")
	assert.Error(t, err)
}

func TestLoadRejectsRemoteBackedWithoutBucket(t *testing.T) {
	t.Setenv("RTCORE_STORE_REMOTE_BACKED", "true")
	_, err := Load("", "RTCORE")
	assert.Error(t, err)
}

func TestValidatorAccumulatesErrors(t *testing.T) {
	v := NewValidator()
	v.RequireString("a", "")
	v.RequirePositiveInt("b", -1)
	v.RequireOneOf("c", "x", []string{"y", "z"})

	assert.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 3)
	assert.Error(t, v.Validate())
}
