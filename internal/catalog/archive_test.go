// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotSchema = `
CREATE TABLE models (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	nsfw INTEGER NOT NULL DEFAULT 0,
	description TEXT,
	creator TEXT,
	tags TEXT
);
CREATE TABLE versions (
	id INTEGER PRIMARY KEY,
	model_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	base_model TEXT,
	published_at TIMESTAMP,
	trained_words TEXT,
	download_url TEXT
);
CREATE TABLE files (
	version_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	size_kb REAL NOT NULL DEFAULT 0,
	is_primary INTEGER NOT NULL DEFAULT 0,
	sha256 TEXT,
	download_url TEXT
);
`

// buildSnapshot writes a populated snapshot database and returns its path.
func buildSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(snapshotSchema)
	require.NoError(t, err)

	_, err = db.Exec(`
	INSERT INTO models VALUES
		(4201, 'Dreamscape', 'Checkpoint', 0, 'a landscape model', 'artisan', '["landscape","style"]'),
		(5500, 'Other', 'LORA', 1, NULL, 'artisan', NULL);
	INSERT INTO versions VALUES
		(9001, 4201, 'v2.0', 'SDXL 1.0', '2026-05-01 12:00:00', '["dreamscape"]', 'https://archive.example.com/9001'),
		(8000, 4201, 'v1.0', 'SD 1.5', NULL, NULL, NULL),
		(7100, 5500, 'v1.0', 'SDXL 1.0', NULL, NULL, NULL);
	INSERT INTO files VALUES
		(9001, 'dreamscape-v2.safetensors', 'Model', 2048.5, 1, 'aabbcc112233', NULL),
		(9001, 'dreamscape-v2.yaml', 'Config', 2, 0, NULL, NULL),
		(8000, 'dreamscape-v1.safetensors', 'Model', 1024, 1, 'ddeeff445566', NULL),
		(7100, 'other.safetensors', 'Model', 144, 1, '99887766', NULL);
	`)
	require.NoError(t, err)
	return path
}

func openTestArchive(t *testing.T) *ArchiveProvider {
	t.Helper()
	p, err := OpenArchive(buildSnapshot(t))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestArchive_GetModelVersions(t *testing.T) {
	p := openTestArchive(t)

	list, err := p.GetModelVersions(context.Background(), 4201)
	require.NoError(t, err)
	assert.Equal(t, "Dreamscape", list.Name)
	assert.Equal(t, "archive", list.Source)
	require.Len(t, list.Versions, 2)

	// Newest version first.
	v := list.Versions[0]
	assert.Equal(t, int64(9001), v.ID)
	assert.Equal(t, []string{"dreamscape"}, v.TrainedWords)
	assert.Equal(t, []string{"landscape", "style"}, v.Model.Tags)
	assert.Equal(t, "artisan", v.Creator.Username)
	require.NotNil(t, v.PublishedAt)
	require.Len(t, v.Files, 2)
	assert.Equal(t, "AABBCC112233", v.SHA256())
	assert.Equal(t, int64(2097664), FileSizeBytes(&v))

	assert.Equal(t, int64(8000), list.Versions[1].ID)
	assert.Nil(t, list.Versions[1].PublishedAt)
}

func TestArchive_GetModelVersionsBulk(t *testing.T) {
	p := openTestArchive(t)

	out, err := p.GetModelVersionsBulk(context.Background(), []int64{4201, 5500, 123456})
	require.NoError(t, err)
	require.Len(t, out, 2, "unknown ids are simply absent from the result")
	assert.Len(t, out[4201].Versions, 2)
	assert.Len(t, out[5500].Versions, 1)
	assert.True(t, out[5500].Versions[0].Model.NSFW)
}

func TestArchive_GetModelByHash(t *testing.T) {
	p := openTestArchive(t)

	v, err := p.GetModelByHash(context.Background(), "ddeeff445566")
	require.NoError(t, err)
	assert.Equal(t, int64(8000), v.ID)

	_, err = p.GetModelByHash(context.Background(), "0000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_GetModelVersionInfo(t *testing.T) {
	p := openTestArchive(t)

	v, err := p.GetModelVersionInfo(context.Background(), 7100)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), v.ModelID)
	assert.Equal(t, "Other", v.Model.Name)

	_, err = p.GetModelVersionInfo(context.Background(), 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_GetUserModels(t *testing.T) {
	p := openTestArchive(t)

	models, err := p.GetUserModels(context.Background(), "artisan")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, int64(5500), models[0].ID, "listing is newest first")

	models, err = p.GetUserModels(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestArchive_UnknownModel(t *testing.T) {
	p := openTestArchive(t)
	_, err := p.GetModelVersions(context.Background(), 987654)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenArchive_CompressedSnapshot(t *testing.T) {
	raw := buildSnapshot(t)
	compressed := raw + ".zst"

	src, err := os.Open(raw)
	require.NoError(t, err)
	dst, err := os.Create(compressed)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(dst)
	require.NoError(t, err)
	_, err = io.Copy(enc, src)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, dst.Close())
	require.NoError(t, src.Close())
	// Remove the plain copy so the provider must inflate the .zst itself.
	require.NoError(t, os.Remove(raw))

	p, err := OpenArchive(compressed)
	require.NoError(t, err)
	defer p.Close()

	list, err := p.GetModelVersions(context.Background(), 4201)
	require.NoError(t, err)
	assert.Len(t, list.Versions, 2)
}

func TestOpenArchive_EmptyPath(t *testing.T) {
	_, err := OpenArchive("")
	assert.Error(t, err)
}
