// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// ArchiveProvider answers metadata queries from an offline catalog snapshot:
// a read-only SQLite database distributed as a zstd-compressed file. It is the
// provider of last resort: always reachable, never rate limited, but frozen
// at snapshot time.
type ArchiveProvider struct {
	db *sql.DB
}

// OpenArchive opens a snapshot database. Paths ending in ".zst" are
// decompressed next to the original on first open and reused afterwards when
// the decompressed copy is newer than the compressed one.
func OpenArchive(path string) (*ArchiveProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	dbPath := path
	if strings.HasSuffix(path, ".zst") {
		var err error
		dbPath, err = decompressSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress archive snapshot: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	log.Infof("Archive provider initialized (db: %s)", dbPath)
	return &ArchiveProvider{db: db}, nil
}

// decompressSnapshot inflates path (a .zst file) to the same name without the
// suffix, skipping the work when an up-to-date copy already exists.
func decompressSnapshot(path string) (string, error) {
	out := strings.TrimSuffix(path, ".zst")
	srcInfo, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if outInfo, err := os.Stat(out); err == nil && outInfo.ModTime().After(srcInfo.ModTime()) {
		return out, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return "", err
	}
	defer dec.Close()

	tmp := out + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(dst, dec)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", err
	}
	log.Infof("Decompressed archive snapshot %s (%d bytes)", filepath.Base(out), written)
	return out, nil
}

// Close releases the snapshot database handle.
func (p *ArchiveProvider) Close() error {
	return p.db.Close()
}

// Name implements MetadataProvider.
func (p *ArchiveProvider) Name() string { return "archive" }

// GetModelByHash implements MetadataProvider.
func (p *ArchiveProvider) GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	var versionID int64
	err := p.db.QueryRowContext(ctx,
		"SELECT version_id FROM files WHERE UPPER(sha256) = ? LIMIT 1",
		strings.ToUpper(hash),
	).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	return p.GetModelVersionInfo(ctx, versionID)
}

// GetModelVersions implements MetadataProvider.
func (p *ArchiveProvider) GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error) {
	if modelID == 0 {
		return nil, ErrNotFound
	}
	lists, err := p.GetModelVersionsBulk(ctx, []int64{modelID})
	if err != nil {
		return nil, err
	}
	list, ok := lists[modelID]
	if !ok {
		return nil, ErrNotFound
	}
	return list, nil
}

// GetModelVersionsBulk implements MetadataProvider. The snapshot answers bulk
// lookups natively with one IN query per table.
func (p *ArchiveProvider) GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error) {
	out := make(map[int64]*VersionListPayload, len(modelIDs))
	if len(modelIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(modelIDs)), ",")
	args := make([]interface{}, len(modelIDs))
	for i, id := range modelIDs {
		args[i] = id
	}

	rows, err := p.db.QueryContext(ctx,
		"SELECT id, name, type, nsfw, description, creator, tags FROM models WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	defer rows.Close()

	refs := make(map[int64]ModelRef, len(modelIDs))
	creators := make(map[int64]Creator, len(modelIDs))
	for rows.Next() {
		var (
			id          int64
			name, typ   string
			nsfw        int
			description sql.NullString
			creator     sql.NullString
			tagsJSON    sql.NullString
		)
		if err := rows.Scan(&id, &name, &typ, &nsfw, &description, &creator, &tagsJSON); err != nil {
			log.Warnf("archive: failed to scan model row: %v", err)
			continue
		}
		ref := ModelRef{Name: name, Type: typ, NSFW: nsfw == 1, Description: description.String}
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &ref.Tags); err != nil {
				log.Debugf("archive: unreadable tags for model %d: %v", id, err)
			}
		}
		refs[id] = ref
		out[id] = &VersionListPayload{
			ModelID: id,
			Name:    name,
			Type:    typ,
			Source:  p.Name(),
		}
		if creator.Valid {
			// Snapshots store the bare username only.
			creators[id] = Creator{Username: creator.String}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := p.attachVersions(ctx, out, refs, creators, placeholders, args); err != nil {
		return nil, err
	}
	return out, nil
}

// attachVersions loads versions and their files for every model in out,
// newest version first.
func (p *ArchiveProvider) attachVersions(ctx context.Context, out map[int64]*VersionListPayload, refs map[int64]ModelRef, creators map[int64]Creator, placeholders string, args []interface{}) error {
	rows, err := p.db.QueryContext(ctx, `
	SELECT id, model_id, name, base_model, published_at, trained_words, download_url
	FROM versions WHERE model_id IN (`+placeholders+`)
	ORDER BY model_id, id DESC`, args...)
	if err != nil {
		return &TransientError{Provider: p.Name(), Err: err}
	}
	defer rows.Close()

	index := make(map[int64]*VersionPayload)
	for rows.Next() {
		var (
			id, modelID  int64
			name         string
			baseModel    sql.NullString
			publishedAt  sql.NullTime
			trainedWords sql.NullString
			downloadURL  sql.NullString
		)
		if err := rows.Scan(&id, &modelID, &name, &baseModel, &publishedAt, &trainedWords, &downloadURL); err != nil {
			log.Warnf("archive: failed to scan version row: %v", err)
			continue
		}
		list, ok := out[modelID]
		if !ok {
			continue
		}
		v := VersionPayload{
			ID:          id,
			ModelID:     modelID,
			Name:        name,
			BaseModel:   baseModel.String,
			Model:       refs[modelID],
			Creator:     creators[modelID],
			DownloadURL: downloadURL.String,
			Source:      p.Name(),
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			v.PublishedAt = &t
		}
		if trainedWords.Valid && trainedWords.String != "" {
			if err := json.Unmarshal([]byte(trainedWords.String), &v.TrainedWords); err != nil {
				log.Debugf("archive: unreadable trained words for version %d: %v", id, err)
			}
		}
		list.Versions = append(list.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return &TransientError{Provider: p.Name(), Err: err}
	}

	// Index only after every append: growing a version slice relocates its
	// elements and would invalidate pointers taken mid-loop.
	for _, list := range out {
		for i := range list.Versions {
			index[list.Versions[i].ID] = &list.Versions[i]
		}
	}
	return p.attachFiles(ctx, out, index)
}

// attachFiles loads file rows for every indexed version.
func (p *ArchiveProvider) attachFiles(ctx context.Context, out map[int64]*VersionListPayload, index map[int64]*VersionPayload) error {
	if len(index) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(index)), ",")
	args := make([]interface{}, 0, len(index))
	for id := range index {
		args = append(args, id)
	}
	rows, err := p.db.QueryContext(ctx, `
	SELECT version_id, name, type, size_kb, is_primary, sha256, download_url
	FROM files WHERE version_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return &TransientError{Provider: p.Name(), Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			versionID   int64
			name, typ   string
			sizeKB      float64
			isPrimary   int
			sha256      sql.NullString
			downloadURL sql.NullString
		)
		if err := rows.Scan(&versionID, &name, &typ, &sizeKB, &isPrimary, &sha256, &downloadURL); err != nil {
			log.Warnf("archive: failed to scan file row: %v", err)
			continue
		}
		v, ok := index[versionID]
		if !ok {
			continue
		}
		f := FilePayload{
			Name:    name,
			Type:    typ,
			SizeKB:  sizeKB,
			Primary: isPrimary == 1,
			URL:     downloadURL.String,
		}
		if sha256.Valid && sha256.String != "" {
			f.Hashes = map[string]string{"SHA256": strings.ToUpper(sha256.String)}
		}
		v.Files = append(v.Files, f)
	}
	return rows.Err()
}

// GetModelVersion implements MetadataProvider.
func (p *ArchiveProvider) GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error) {
	switch {
	case modelID == 0 && versionID == 0:
		return nil, ErrNotFound
	case versionID != 0 && modelID == 0:
		return p.GetModelVersionInfo(ctx, versionID)
	}
	list, err := p.GetModelVersions(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if versionID == 0 {
		if len(list.Versions) == 0 {
			return nil, ErrNotFound
		}
		return &list.Versions[0], nil
	}
	for i := range list.Versions {
		if list.Versions[i].ID == versionID {
			return &list.Versions[i], nil
		}
	}
	return nil, ErrNotFound
}

// GetModelVersionInfo implements MetadataProvider.
func (p *ArchiveProvider) GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error) {
	if versionID == 0 {
		return nil, ErrNotFound
	}
	var modelID int64
	err := p.db.QueryRowContext(ctx, "SELECT model_id FROM versions WHERE id = ?", versionID).Scan(&modelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	list, err := p.GetModelVersions(ctx, modelID)
	if err != nil {
		return nil, err
	}
	for i := range list.Versions {
		if list.Versions[i].ID == versionID {
			return &list.Versions[i], nil
		}
	}
	return nil, ErrNotFound
}

// GetUserModels implements MetadataProvider.
func (p *ArchiveProvider) GetUserModels(ctx context.Context, username string) ([]ModelSummary, error) {
	if username == "" {
		return nil, ErrNotFound
	}
	rows, err := p.db.QueryContext(ctx,
		"SELECT id, name, type FROM models WHERE creator = ? ORDER BY id DESC", username)
	if err != nil {
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	defer rows.Close()

	var out []ModelSummary
	for rows.Next() {
		var s ModelSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Type); err != nil {
			log.Warnf("archive: failed to scan model summary: %v", err)
			continue
		}
		s.Source = p.Name()
		out = append(out, s)
	}
	return out, rows.Err()
}
