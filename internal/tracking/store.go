// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Store is the durable record store behind update tracking, backed by an
// embedded SQLite database so state survives restarts. It exclusively owns
// the persisted records; callers only ever see copies.
type Store struct {
	db     *sql.DB
	dbPath string
}

// schema keys both tables by (model_type, model_id) because version ids are
// only unique within one model's version set.
const schema = `
CREATE TABLE IF NOT EXISTS models_update (
	model_type TEXT NOT NULL,
	model_id INTEGER NOT NULL,
	should_ignore INTEGER NOT NULL DEFAULT 0,
	last_checked_at DATETIME,
	PRIMARY KEY (model_type, model_id)
);

CREATE TABLE IF NOT EXISTS model_versions (
	model_type TEXT NOT NULL,
	model_id INTEGER NOT NULL,
	version_id INTEGER NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	name TEXT,
	base_model TEXT,
	released_at DATETIME,
	size_bytes INTEGER,
	preview_url TEXT,
	is_in_library INTEGER NOT NULL DEFAULT 0,
	should_ignore INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (model_type, model_id, version_id)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_model ON model_versions(model_type, model_id);
`

// OpenStore opens (creating if necessary) the tracking database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	log.Infof("Update tracking store initialized (db: %s)", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// newStoreWithDB wires a Store over an existing handle; used by tests.
func newStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetRecord returns the stored record for one model, or nil when the model
// has never been refreshed.
func (s *Store) GetRecord(ctx context.Context, modelType string, modelID int64) (*UpdateRecord, error) {
	rec := &UpdateRecord{ModelType: modelType, ModelID: modelID}

	var ignoreInt int
	var lastChecked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT should_ignore, last_checked_at FROM models_update WHERE model_type = ? AND model_id = ?",
		modelType, modelID,
	).Scan(&ignoreInt, &lastChecked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model record: %w", err)
	}
	rec.ShouldIgnoreModel = ignoreInt == 1
	if lastChecked.Valid {
		rec.LastCheckedAt = lastChecked.Time
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT version_id, name, base_model, released_at, size_bytes, preview_url, is_in_library, should_ignore
	FROM model_versions
	WHERE model_type = ? AND model_id = ?
	ORDER BY position ASC`, modelType, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query version records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVersionRecord(rows)
		if err != nil {
			log.Warnf("Failed to scan version record: %v", err)
			continue
		}
		rec.Versions = append(rec.Versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version records: %w", err)
	}
	return rec, nil
}

// UpsertRecord replaces a model's version list wholesale with rec.Versions,
// updates last_checked_at, and preserves ignore flags already stored for
// version ids that still appear. The model-level ignore flag is likewise
// preserved unless rec explicitly re-derives it (rec.ShouldIgnoreModel true
// always wins; false never clears a stored true). The whole update is one
// transaction: a record update is all-or-nothing.
func (s *Store) UpsertRecord(ctx context.Context, rec *UpdateRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.LastCheckedAt.IsZero() {
		rec.LastCheckedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Carry forward stored suppression state.
	ignoredVersions := make(map[int64]bool)
	rows, err := tx.QueryContext(ctx,
		"SELECT version_id FROM model_versions WHERE model_type = ? AND model_id = ? AND should_ignore = 1",
		rec.ModelType, rec.ModelID)
	if err != nil {
		return fmt.Errorf("failed to query ignored versions: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			ignoredVersions[id] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating ignored versions: %w", err)
	}

	var storedIgnore int
	err = tx.QueryRowContext(ctx,
		"SELECT should_ignore FROM models_update WHERE model_type = ? AND model_id = ?",
		rec.ModelType, rec.ModelID).Scan(&storedIgnore)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to query model record: %w", err)
	}
	modelIgnore := rec.ShouldIgnoreModel || storedIgnore == 1
	if rec.ClearIgnoreModel {
		modelIgnore = rec.ShouldIgnoreModel
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO models_update (model_type, model_id, should_ignore, last_checked_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(model_type, model_id) DO UPDATE SET
		should_ignore = excluded.should_ignore,
		last_checked_at = excluded.last_checked_at`,
		rec.ModelType, rec.ModelID, boolToInt(modelIgnore), rec.LastCheckedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert model record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM model_versions WHERE model_type = ? AND model_id = ?",
		rec.ModelType, rec.ModelID); err != nil {
		return fmt.Errorf("failed to clear version records: %w", err)
	}

	for i := range rec.Versions {
		v := &rec.Versions[i]
		ignore := v.ShouldIgnore || ignoredVersions[v.VersionID]
		var releasedAt interface{}
		if v.ReleasedAt != nil {
			releasedAt = *v.ReleasedAt
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_versions (model_type, model_id, version_id, position, name, base_model,
			released_at, size_bytes, preview_url, is_in_library, should_ignore)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ModelType, rec.ModelID, v.VersionID, i, v.Name, v.BaseModel,
			releasedAt, v.SizeBytes, v.PreviewURL, boolToInt(v.IsInLibrary), boolToInt(ignore),
		); err != nil {
			return fmt.Errorf("failed to insert version %d: %w", v.VersionID, err)
		}
	}

	return tx.Commit()
}

// SetShouldIgnore flags or unflags a whole model for update suppression,
// independent of refresh. The model row is created if absent so the flag
// survives even for never-refreshed models.
func (s *Store) SetShouldIgnore(ctx context.Context, modelType string, modelID int64, flag bool) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO models_update (model_type, model_id, should_ignore)
	VALUES (?, ?, ?)
	ON CONFLICT(model_type, model_id) DO UPDATE SET should_ignore = excluded.should_ignore`,
		modelType, modelID, boolToInt(flag))
	if err != nil {
		return fmt.Errorf("failed to set model ignore flag: %w", err)
	}
	return nil
}

// MarkMissing records a terminal not-found outcome for a model: the
// model-level ignore flag is set and last_checked_at advances so the model is
// not rechecked every cycle, but any stored versions stay untouched; the
// model was once checked and that history is worth keeping.
func (s *Store) MarkMissing(ctx context.Context, modelType string, modelID int64) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO models_update (model_type, model_id, should_ignore, last_checked_at)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(model_type, model_id) DO UPDATE SET
		should_ignore = 1,
		last_checked_at = excluded.last_checked_at`,
		modelType, modelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark model missing: %w", err)
	}
	return nil
}

// SetVersionShouldIgnore flags one specific version.
func (s *Store) SetVersionShouldIgnore(ctx context.Context, modelType string, modelID, versionID int64, flag bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE model_versions SET should_ignore = ? WHERE model_type = ? AND model_id = ? AND version_id = ?",
		boolToInt(flag), modelType, modelID, versionID)
	if err != nil {
		return fmt.Errorf("failed to set version ignore flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("version %d of model %d not tracked", versionID, modelID)
	}
	return nil
}

// UpdateInLibraryVersions recomputes every stored version's is_in_library
// flag from the given held set. This is how local library changes feed back
// into HasUpdate without a remote refresh.
func (s *Store) UpdateInLibraryVersions(ctx context.Context, modelType string, modelID int64, versionIDs []int64) error {
	held := make(map[int64]bool, len(versionIDs))
	for _, id := range versionIDs {
		held[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE model_versions SET is_in_library = 0 WHERE model_type = ? AND model_id = ?",
		modelType, modelID); err != nil {
		return fmt.Errorf("failed to reset library flags: %w", err)
	}
	for id := range held {
		if _, err := tx.ExecContext(ctx,
			"UPDATE model_versions SET is_in_library = 1 WHERE model_type = ? AND model_id = ? AND version_id = ?",
			modelType, modelID, id); err != nil {
			return fmt.Errorf("failed to set library flag for version %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// InLibraryModels lists every (model type, model id) pair that currently has
// at least one version flagged as held. The watcher diffs this against a
// fresh scan to find models whose last copy left the library.
func (s *Store) InLibraryModels(ctx context.Context) (map[string][]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT model_type, model_id FROM model_versions WHERE is_in_library = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query in-library models: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var modelType string
		var modelID int64
		if err := rows.Scan(&modelType, &modelID); err != nil {
			return nil, err
		}
		out[modelType] = append(out[modelType], modelID)
	}
	return out, rows.Err()
}

// HasUpdate derives the update predicate for one model. Unknown models are
// reported as having no update.
func (s *Store) HasUpdate(ctx context.Context, modelType string, modelID int64) (bool, error) {
	rec, err := s.GetRecord(ctx, modelType, modelID)
	if err != nil {
		return false, err
	}
	return rec.HasUpdate(), nil
}

// HasUpdatesBulk answers HasUpdate for many models of one type. Every
// requested id appears in the result; unknown ids map to false rather than
// being omitted.
func (s *Store) HasUpdatesBulk(ctx context.Context, modelType string, modelIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(modelIDs))
	for _, id := range modelIDs {
		out[id] = false
	}
	for _, id := range modelIDs {
		has, err := s.HasUpdate(ctx, modelType, id)
		if err != nil {
			return nil, err
		}
		out[id] = has
	}
	return out, nil
}

// StaleSince returns whether the model's last check predates cutoff. Models
// never checked are always stale.
func (s *Store) StaleSince(ctx context.Context, modelType string, modelID int64, cutoff time.Time) (bool, error) {
	var lastChecked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT last_checked_at FROM models_update WHERE model_type = ? AND model_id = ?",
		modelType, modelID).Scan(&lastChecked)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query last checked: %w", err)
	}
	return !lastChecked.Valid || lastChecked.Time.Before(cutoff), nil
}

// scanVersionRecord scans one model_versions row.
func scanVersionRecord(rows *sql.Rows) (*VersionRecord, error) {
	var (
		v           VersionRecord
		name        sql.NullString
		baseModel   sql.NullString
		releasedAt  sql.NullTime
		sizeBytes   sql.NullInt64
		previewURL  sql.NullString
		libraryInt  int
		shouldIgInt int
	)
	err := rows.Scan(&v.VersionID, &name, &baseModel, &releasedAt, &sizeBytes, &previewURL, &libraryInt, &shouldIgInt)
	if err != nil {
		return nil, err
	}
	v.Name = name.String
	v.BaseModel = baseModel.String
	if releasedAt.Valid {
		t := releasedAt.Time
		v.ReleasedAt = &t
	}
	v.SizeBytes = sizeBytes.Int64
	v.PreviewURL = previewURL.String
	v.IsInLibrary = libraryInt == 1
	v.ShouldIgnore = shouldIgInt == 1
	return &v, nil
}

// boolToInt converts a boolean to an integer (0 or 1).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
