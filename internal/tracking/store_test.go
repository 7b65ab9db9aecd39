// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(modelID int64, versions ...VersionRecord) *UpdateRecord {
	return &UpdateRecord{
		ModelType: "checkpoint",
		ModelID:   modelID,
		Versions:  versions,
	}
}

func TestStore_GetRecordUnknown(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.GetRecord(context.Background(), "checkpoint", 42)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_UpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	released := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	in := testRecord(42,
		VersionRecord{VersionID: 9001, Name: "v2.0", BaseModel: "SDXL 1.0", ReleasedAt: &released,
			SizeBytes: 2097664, PreviewURL: "https://x/preview.jpeg"},
		VersionRecord{VersionID: 8000, Name: "v1.0", IsInLibrary: true},
	)
	require.NoError(t, s.UpsertRecord(ctx, in))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.ShouldIgnoreModel)
	assert.False(t, rec.LastCheckedAt.IsZero())
	require.Len(t, rec.Versions, 2)

	// Provider return order survives the round trip.
	assert.Equal(t, int64(9001), rec.Versions[0].VersionID)
	assert.Equal(t, "SDXL 1.0", rec.Versions[0].BaseModel)
	require.NotNil(t, rec.Versions[0].ReleasedAt)
	assert.True(t, released.Equal(*rec.Versions[0].ReleasedAt))
	assert.Equal(t, int64(2097664), rec.Versions[0].SizeBytes)
	assert.True(t, rec.Versions[1].IsInLibrary)
}

func TestStore_UpsertReplacesVersionsWholesale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 8000},
		VersionRecord{VersionID: 7000},
	)))
	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 9001},
		VersionRecord{VersionID: 8000},
	)))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	require.Len(t, rec.Versions, 2)
	assert.Equal(t, int64(9001), rec.Versions[0].VersionID)
	assert.Equal(t, int64(8000), rec.Versions[1].VersionID)
}

func TestStore_UpsertPreservesVersionIgnoreFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 8000},
	)))
	require.NoError(t, s.SetVersionShouldIgnore(ctx, "checkpoint", 42, 8000, true))

	// A refresh reporting the same version id must not wipe the suppression.
	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 9001},
		VersionRecord{VersionID: 8000},
	)))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	require.Len(t, rec.Versions, 2)
	assert.False(t, rec.Versions[0].ShouldIgnore)
	assert.True(t, rec.Versions[1].ShouldIgnore)
}

func TestStore_UpsertPreservesModelIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetShouldIgnore(ctx, "checkpoint", 42, true))
	require.NoError(t, s.UpsertRecord(ctx, testRecord(42, VersionRecord{VersionID: 9001})))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.True(t, rec.ShouldIgnoreModel, "a plain upsert must not clear a stored model ignore")

	clearing := testRecord(42, VersionRecord{VersionID: 9001})
	clearing.ClearIgnoreModel = true
	require.NoError(t, s.UpsertRecord(ctx, clearing))

	rec, err = s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.False(t, rec.ShouldIgnoreModel, "an explicit clearing upsert resets the flag")
}

func TestStore_SharedVersionIDsAcrossModels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Version id 5 exists in two different models; flags must stay isolated.
	require.NoError(t, s.UpsertRecord(ctx, testRecord(1, VersionRecord{VersionID: 5})))
	require.NoError(t, s.UpsertRecord(ctx, testRecord(2, VersionRecord{VersionID: 5})))
	require.NoError(t, s.SetVersionShouldIgnore(ctx, "checkpoint", 1, 5, true))

	recA, err := s.GetRecord(ctx, "checkpoint", 1)
	require.NoError(t, err)
	recB, err := s.GetRecord(ctx, "checkpoint", 2)
	require.NoError(t, err)
	assert.True(t, recA.Versions[0].ShouldIgnore)
	assert.False(t, recB.Versions[0].ShouldIgnore)
}

func TestStore_SetVersionShouldIgnoreUntracked(t *testing.T) {
	s := openTestStore(t)
	err := s.SetVersionShouldIgnore(context.Background(), "checkpoint", 42, 9999, true)
	assert.Error(t, err)
}

func TestStore_MarkMissingKeepsVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42, VersionRecord{VersionID: 9001})))
	require.NoError(t, s.MarkMissing(ctx, "checkpoint", 42))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.True(t, rec.ShouldIgnoreModel)
	assert.Len(t, rec.Versions, 1, "missing mark must not discard stored versions")
	assert.False(t, rec.HasUpdate())
}

func TestStore_UpdateInLibraryVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 9001},
		VersionRecord{VersionID: 8000, IsInLibrary: true},
	)))

	// The user swapped v1 out for v2 locally.
	require.NoError(t, s.UpdateInLibraryVersions(ctx, "checkpoint", 42, []int64{9001}))

	rec, err := s.GetRecord(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.True(t, rec.Versions[0].IsInLibrary)
	assert.False(t, rec.Versions[1].IsInLibrary)
	assert.False(t, rec.HasUpdate())
}

func TestStore_InLibraryModels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 8000, IsInLibrary: true},
		VersionRecord{VersionID: 8001, IsInLibrary: true},
	)))
	require.NoError(t, s.UpsertRecord(ctx, testRecord(43,
		VersionRecord{VersionID: 8100},
	)))
	require.NoError(t, s.UpsertRecord(ctx, &UpdateRecord{
		ModelType: "lora",
		ModelID:   7,
		Versions:  []VersionRecord{{VersionID: 70, IsInLibrary: true}},
	}))

	held, err := s.InLibraryModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{
		"checkpoint": {42},
		"lora":       {7},
	}, held)
}

func TestStore_HasUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42,
		VersionRecord{VersionID: 9001},
		VersionRecord{VersionID: 8000, IsInLibrary: true},
	)))

	has, err := s.HasUpdate(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.True(t, has)

	// Ignoring the newer version kills the update.
	require.NoError(t, s.SetVersionShouldIgnore(ctx, "checkpoint", 42, 9001, true))
	has, err = s.HasUpdate(ctx, "checkpoint", 42)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_HasUpdatesBulk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, testRecord(1,
		VersionRecord{VersionID: 9001},
		VersionRecord{VersionID: 8000, IsInLibrary: true},
	)))
	require.NoError(t, s.UpsertRecord(ctx, testRecord(2,
		VersionRecord{VersionID: 5000, IsInLibrary: true},
	)))

	out, err := s.HasUpdatesBulk(ctx, "checkpoint", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 2: false, 3: false}, out)
}

func TestStore_StaleSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale, err := s.StaleSince(ctx, "checkpoint", 42, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, stale, "never-checked models are always stale")

	require.NoError(t, s.UpsertRecord(ctx, testRecord(42, VersionRecord{VersionID: 9001})))

	stale, err = s.StaleSince(ctx, "checkpoint", 42, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = s.StaleSince(ctx, "checkpoint", 42, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestOpenStore_EmptyPath(t *testing.T) {
	_, err := OpenStore("")
	assert.Error(t, err)
}
