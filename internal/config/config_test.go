// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.LogsDir)
	assert.Empty(t, cfg.LibraryRoots)
	assert.Zero(t, cfg.UpdateTTLHours)
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
library-roots:
  - /models/checkpoints
  - /models/loras
db-path: /data/tracking.db
mirror-base-url: https://mirror.example.com/api
provider-order: [civitai, mirror, archive]
update-ttl-hours: 6
requests-per-second: 0.5
debug: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/models/checkpoints", "/models/loras"}, cfg.LibraryRoots)
	assert.Equal(t, "/data/tracking.db", cfg.DBPath)
	assert.Equal(t, "https://mirror.example.com/api", cfg.MirrorBaseURL)
	assert.Equal(t, []string{"civitai", "mirror", "archive"}, cfg.ProviderOrder)
	assert.Equal(t, 6, cfg.UpdateTTLHours)
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_EnvOverridesAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api-key: from-file\n"), 0o644))

	t.Setenv(EnvAPIKey, "from-env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("library-roots: [unbalanced"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		LibraryRoots:   []string{"/models"},
		DBPath:         "/data/tracking.db",
		LogsDir:        "/data/logs",
		UpdateTTLHours: 12,
	}
	require.NoError(t, in.Save(path))

	out, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, in.LibraryRoots, out.LibraryRoots)
	assert.Equal(t, in.DBPath, out.DBPath)
	assert.Equal(t, 12, out.UpdateTTLHours)
}
