// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracking

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/modelwatch/internal/catalog"
)

// DefaultTTL is how long a successful or terminal check stays fresh before a
// model becomes eligible for re-checking.
const DefaultTTL = 24 * time.Hour

// BulkBatchSize is the fixed number of model ids per bulk provider call.
const BulkBatchSize = 100

// LocalModel is one locally held copy as reported by the scanner: the remote
// model id and the version id of the held file.
type LocalModel struct {
	ModelID   int64
	VersionID int64
}

// RefreshStats summarizes one refresh run.
type RefreshStats struct {
	Checked int // models fetched from a provider
	Updated int // records upserted with fresh version lists
	Missing int // models newly marked missing
	Skipped int // models skipped (fresh TTL or ignored)
}

// RefreshEngine decides which models need a remote check and performs the
// checks in fixed-size batches against a provider. Batches run sequentially
// (a later batch is only issued once the prior batch's outcome is known) so a
// single backend's rate limits are respected.
type RefreshEngine struct {
	store    *Store
	provider catalog.MetadataProvider
	ttl      time.Duration
	now      func() time.Time
}

// NewRefreshEngine creates an engine over store and provider. ttl <= 0
// selects DefaultTTL. provider is normally the fallback orchestrator.
func NewRefreshEngine(store *Store, provider catalog.MetadataProvider, ttl time.Duration) *RefreshEngine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RefreshEngine{store: store, provider: provider, ttl: ttl, now: time.Now}
}

// Refresh brings the store up to date for the scanner's known local models,
// keyed by model type. When targets is non-empty, only the listed model ids
// are considered and they bypass both the TTL gate and a model-level ignore;
// an explicit target is a user asking to re-check. All models of one type are
// processed to completion before the call returns; there is no partial-result
// streaming.
func (e *RefreshEngine) Refresh(ctx context.Context, local map[string][]LocalModel, targets []int64) (*RefreshStats, error) {
	stats := &RefreshStats{}
	targetSet := make(map[int64]bool, len(targets))
	for _, id := range targets {
		targetSet[id] = true
	}

	for modelType, models := range local {
		if err := e.refreshType(ctx, modelType, models, targetSet, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// refreshType refreshes all eligible models of one type.
func (e *RefreshEngine) refreshType(ctx context.Context, modelType string, models []LocalModel, targetSet map[int64]bool, stats *RefreshStats) error {
	// The scanner may report several held versions of the same model.
	held := make(map[int64]map[int64]bool)
	for _, m := range models {
		if m.ModelID == 0 {
			continue
		}
		if held[m.ModelID] == nil {
			held[m.ModelID] = make(map[int64]bool)
		}
		if m.VersionID != 0 {
			held[m.ModelID][m.VersionID] = true
		}
	}

	cutoff := e.now().Add(-e.ttl)
	var pending []int64
	for modelID := range held {
		if len(targetSet) > 0 {
			if targetSet[modelID] {
				pending = append(pending, modelID)
			}
			continue
		}
		skip, err := e.shouldSkip(ctx, modelType, modelID, cutoff)
		if err != nil {
			return err
		}
		if skip {
			stats.Skipped++
			continue
		}
		pending = append(pending, modelID)
	}
	if len(pending) == 0 {
		return nil
	}
	log.Infof("Refreshing %d %s models", len(pending), modelType)

	for start := 0; start < len(pending); start += BulkBatchSize {
		end := start + BulkBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.refreshBatch(ctx, modelType, pending[start:end], held, stats); err != nil {
			return err
		}
	}
	return nil
}

// shouldSkip applies the ignore flag and TTL gate without any network call.
func (e *RefreshEngine) shouldSkip(ctx context.Context, modelType string, modelID int64, cutoff time.Time) (bool, error) {
	rec, err := e.store.GetRecord(ctx, modelType, modelID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if rec.ShouldIgnoreModel {
		return true, nil
	}
	return !rec.LastCheckedAt.IsZero() && rec.LastCheckedAt.After(cutoff), nil
}

// refreshBatch fetches one batch of model ids, falling back to per-model
// lookups when the provider has no bulk support. A rate limit that survived
// the retry budget aborts the refresh so the caller can apply backpressure;
// a transient outage leaves the batch's records untouched (stale data beats
// data loss) and moves on.
func (e *RefreshEngine) refreshBatch(ctx context.Context, modelType string, modelIDs []int64, held map[int64]map[int64]bool, stats *RefreshStats) error {
	lists, err := e.provider.GetModelVersionsBulk(ctx, modelIDs)
	switch {
	case err == nil:
		for _, modelID := range modelIDs {
			stats.Checked++
			list, ok := lists[modelID]
			if !ok || len(list.Versions) == 0 {
				// Absent from a successful bulk response means the remote
				// model is gone. Expected long-term state, not an error.
				log.Infof("Model %s/%d not found remotely, marking ignored", modelType, modelID)
				if err := e.store.MarkMissing(ctx, modelType, modelID); err != nil {
					return err
				}
				stats.Missing++
				continue
			}
			if err := e.upsertList(ctx, modelType, modelID, list, held[modelID]); err != nil {
				return err
			}
			stats.Updated++
		}
		return nil

	case errors.Is(err, catalog.ErrBulkUnsupported):
		for _, modelID := range modelIDs {
			if err := e.refreshOne(ctx, modelType, modelID, held[modelID], stats); err != nil {
				return err
			}
		}
		return nil

	case errors.Is(err, catalog.ErrNotFound):
		// Every backend answered and none knows any id in this batch. Just as
		// terminal as an id missing from a non-empty bulk response.
		for _, modelID := range modelIDs {
			stats.Checked++
			log.Infof("Model %s/%d not found remotely, marking ignored", modelType, modelID)
			if err := e.store.MarkMissing(ctx, modelType, modelID); err != nil {
				return err
			}
			stats.Missing++
		}
		return nil

	default:
		if _, ok := catalog.IsRateLimited(err); ok {
			return err
		}
		log.Warnf("Bulk refresh batch failed for %s, leaving %d records untouched: %v", modelType, len(modelIDs), err)
		return nil
	}
}

// refreshOne is the per-model path used when bulk lookup is unsupported.
func (e *RefreshEngine) refreshOne(ctx context.Context, modelType string, modelID int64, heldVersions map[int64]bool, stats *RefreshStats) error {
	stats.Checked++
	list, err := e.provider.GetModelVersions(ctx, modelID)
	switch {
	case err == nil && list != nil && len(list.Versions) > 0:
		if err := e.upsertList(ctx, modelType, modelID, list, heldVersions); err != nil {
			return err
		}
		stats.Updated++
		return nil
	case errors.Is(err, catalog.ErrNotFound) || (err == nil && (list == nil || len(list.Versions) == 0)):
		log.Infof("Model %s/%d not found remotely, marking ignored", modelType, modelID)
		if err := e.store.MarkMissing(ctx, modelType, modelID); err != nil {
			return err
		}
		stats.Missing++
		return nil
	default:
		if _, ok := catalog.IsRateLimited(err); ok {
			return err
		}
		log.Warnf("Refresh failed for %s/%d, leaving record untouched: %v", modelType, modelID, err)
		return nil
	}
}

// upsertList converts a provider version list into store records and persists
// it. A non-empty response clears a previous missing mark: the model is
// demonstrably back.
func (e *RefreshEngine) upsertList(ctx context.Context, modelType string, modelID int64, list *catalog.VersionListPayload, heldVersions map[int64]bool) error {
	rec := &UpdateRecord{
		ModelType:         modelType,
		ModelID:           modelID,
		LastCheckedAt:     e.now().UTC(),
		ShouldIgnoreModel: false,
		ClearIgnoreModel:  true,
	}
	for i := range list.Versions {
		v := &list.Versions[i]
		vr := VersionRecord{
			VersionID:   v.ID,
			Name:        v.Name,
			BaseModel:   v.BaseModel,
			SizeBytes:   catalog.FileSizeBytes(v),
			IsInLibrary: heldVersions[v.ID],
		}
		if v.PublishedAt != nil {
			vr.ReleasedAt = v.PublishedAt
		} else if v.CreatedAt != nil {
			vr.ReleasedAt = v.CreatedAt
		}
		if len(v.Images) > 0 {
			vr.PreviewURL = catalog.NormalizePreviewURL(v.Images[0].URL)
		}
		rec.Versions = append(rec.Versions, vr)
	}
	return e.store.UpsertRecord(ctx, rec)
}
