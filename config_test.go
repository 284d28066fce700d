/*
File: config_test.go
Version: 1.0.0
Description: Tests for YAML configuration loading and defaulting.
*/

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: WARNING\n"), 0644))

	require.NoError(t, LoadConfig(path))

	assert.Equal(t, "127.0.0.1", config.Server.ListenAddr)
	assert.Equal(t, 5000, config.Server.Port)
	require.Len(t, config.Server.Listeners, 1)
	assert.Equal(t, "http", config.Server.Listeners[0].Protocol)
	assert.Equal(t, int64(1<<20), config.Server.MaxBodyBytes)
	assert.Equal(t, DefaultServerTimeout, config.Server.parsedTimeout)

	assert.Equal(t, []string{"model.json", "model_v1.json"}, config.Model.BundleCandidates)
	assert.Equal(t, "model_config.json", config.Model.ConfigFile)

	assert.Equal(t, DefaultCacheSize, config.Cache.Size)
	assert.Equal(t, DefaultCacheTTL, config.Cache.parsedTTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	assert.Error(t, LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadConfigDurations(t *testing.T) {
	content := `
cache:
  enabled: true
  ttl: 45m
  save_interval: nonsense
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, LoadConfig(path))
	assert.Equal(t, 45*time.Minute, config.Cache.parsedTTL)
	// Unparseable durations fall back to the default instead of failing.
	assert.Equal(t, 30*time.Minute, config.Cache.parsedSaveInterval)
}

func TestStringOrSlice(t *testing.T) {
	var single struct {
		Addr StringOrSlice `yaml:"addr"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`addr: 127.0.0.1`), &single))
	assert.Equal(t, StringOrSlice{"127.0.0.1"}, single.Addr)

	require.NoError(t, yaml.Unmarshal([]byte("addr:\n  - a\n  - b"), &single))
	assert.Equal(t, StringOrSlice{"a", "b"}, single.Addr)
}

func TestIntOrSlice(t *testing.T) {
	var v struct {
		Port IntOrSlice `yaml:"port"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`port: 5000`), &v))
	assert.Equal(t, IntOrSlice{5000}, v.Port)

	require.NoError(t, yaml.Unmarshal([]byte("port:\n  - 80\n  - 443"), &v))
	assert.Equal(t, IntOrSlice{80, 443}, v.Port)
}
