// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/modelwatch/internal/tracking"
)

// placeModel writes a fake model file plus its sidecar into dir.
func placeModel(t *testing.T, dir, name string, sc *Sidecar) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	require.NoError(t, WriteSidecar(path, sc))
	return path
}

func TestDirScanner_Scan(t *testing.T) {
	root := t.TempDir()
	placeModel(t, root, "checkpoints/dreamscape-v2.safetensors",
		&Sidecar{ModelType: "checkpoint", ModelID: 4201, VersionID: 9001})
	placeModel(t, root, "loras/detail.safetensors",
		&Sidecar{ModelType: "lora", ModelID: 5500, VersionID: 7100})

	local, err := NewDirScanner(root).Scan()
	require.NoError(t, err)
	require.Len(t, local, 2)
	assert.Equal(t, []tracking.LocalModel{{ModelID: 4201, VersionID: 9001}}, local["checkpoint"])
	assert.Equal(t, []tracking.LocalModel{{ModelID: 5500, VersionID: 7100}}, local["lora"])
}

func TestDirScanner_OrphanedSidecarSkipped(t *testing.T) {
	root := t.TempDir()
	path := placeModel(t, root, "gone.safetensors",
		&Sidecar{ModelType: "checkpoint", ModelID: 1, VersionID: 2})
	require.NoError(t, os.Remove(path)) // model file deleted, sidecar left behind

	local, err := NewDirScanner(root).Scan()
	require.NoError(t, err)
	assert.Empty(t, local["checkpoint"])
}

func TestDirScanner_DefaultModelType(t *testing.T) {
	root := t.TempDir()
	placeModel(t, root, "untyped.safetensors", &Sidecar{ModelID: 1, VersionID: 2})

	local, err := NewDirScanner(root).Scan()
	require.NoError(t, err)
	require.Len(t, local["checkpoint"], 1)
}

func TestDirScanner_MissingRootSkipped(t *testing.T) {
	root := t.TempDir()
	placeModel(t, root, "a.safetensors", &Sidecar{ModelType: "checkpoint", ModelID: 1, VersionID: 2})

	local, err := NewDirScanner(filepath.Join(root, "does-not-exist"), root).Scan()
	require.NoError(t, err)
	assert.Len(t, local["checkpoint"], 1)
}

func TestDirScanner_MalformedSidecarSkipped(t *testing.T) {
	root := t.TempDir()
	model := filepath.Join(root, "broken.safetensors")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(model+SidecarSuffix, []byte("{not json"), 0o644))

	local, err := NewDirScanner(root).Scan()
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestWriteSidecar_RoundTrip(t *testing.T) {
	root := t.TempDir()
	model := filepath.Join(root, "x.safetensors")
	in := &Sidecar{ModelType: "lora", ModelID: 10, VersionID: 20, SHA256: "AABB"}
	require.NoError(t, WriteSidecar(model, in))

	out, err := readSidecar(model + SidecarSuffix)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
