// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Fallback presents one MetadataProvider backed by an ordered list of
// providers. Each call walks the list in order: the first non-empty success
// wins and later providers are never consulted. Rate limits are retried in
// place by the per-provider retry decorator and, once the retry budget is
// spent, surfaced to the caller rather than masked by failing over. A rate
// limit is a signal to slow down, not to route around. Every other failure
// moves on to the next provider.
type Fallback struct {
	providers []MetadataProvider
}

// NewFallback builds an orchestrator over providers in priority order. Each
// provider is wrapped with rate-limit retry; retries <= 0 selects the default
// budget.
func NewFallback(retries int, providers ...MetadataProvider) *Fallback {
	wrapped := make([]MetadataProvider, 0, len(providers))
	for _, p := range providers {
		wrapped = append(wrapped, NewRetryingProvider(p, retries))
	}
	return &Fallback{providers: wrapped}
}

// Name implements MetadataProvider.
func (f *Fallback) Name() string { return "fallback" }

// Providers returns the names of the wrapped providers in consultation order.
func (f *Fallback) Providers() []string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return names
}

// failOver decides whether err allows moving to the next provider. Rate
// limits and context cancellation stop the walk; everything else fails over.
func failOver(err error) bool {
	if _, ok := IsRateLimited(err); ok {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// each runs op against every provider in order until one succeeds. op returns
// (done, err); done without error means a usable result was produced.
func (f *Fallback) each(ctx context.Context, operation string, op func(p MetadataProvider) (bool, error)) error {
	var lastErr error = ErrNotFound
	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := op(p)
		if err == nil && done {
			return nil
		}
		if err == nil {
			// Empty result; treat like not found and keep walking.
			lastErr = ErrNotFound
			continue
		}
		if !failOver(err) {
			return err
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrBulkUnsupported) {
			log.Debugf("%s failed on provider %s, trying next: %v", operation, p.Name(), err)
		}
		lastErr = err
		if errors.Is(err, ErrBulkUnsupported) {
			// Keep the sentinel only if nobody else answers either.
			lastErr = ErrBulkUnsupported
		}
	}
	return lastErr
}

// GetModelByHash implements MetadataProvider.
func (f *Fallback) GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error) {
	var out *VersionPayload
	err := f.each(ctx, "GetModelByHash", func(p MetadataProvider) (bool, error) {
		v, err := p.GetModelByHash(ctx, hash)
		out = v
		return v != nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModelVersions implements MetadataProvider.
func (f *Fallback) GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error) {
	var out *VersionListPayload
	err := f.each(ctx, "GetModelVersions", func(p MetadataProvider) (bool, error) {
		l, err := p.GetModelVersions(ctx, modelID)
		out = l
		return l != nil && len(l.Versions) > 0, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModelVersionsBulk implements MetadataProvider. A provider without bulk
// support is skipped here; per-model fallback is the refresh engine's job
// because only it knows the batch composition.
func (f *Fallback) GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error) {
	var out map[int64]*VersionListPayload
	err := f.each(ctx, "GetModelVersionsBulk", func(p MetadataProvider) (bool, error) {
		m, err := p.GetModelVersionsBulk(ctx, modelIDs)
		out = m
		return len(m) > 0, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModelVersion implements MetadataProvider.
func (f *Fallback) GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error) {
	var out *VersionPayload
	err := f.each(ctx, "GetModelVersion", func(p MetadataProvider) (bool, error) {
		v, err := p.GetModelVersion(ctx, modelID, versionID)
		out = v
		return v != nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModelVersionInfo implements MetadataProvider.
func (f *Fallback) GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error) {
	var out *VersionPayload
	err := f.each(ctx, "GetModelVersionInfo", func(p MetadataProvider) (bool, error) {
		v, err := p.GetModelVersionInfo(ctx, versionID)
		out = v
		return v != nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUserModels implements MetadataProvider.
func (f *Fallback) GetUserModels(ctx context.Context, username string) ([]ModelSummary, error) {
	var out []ModelSummary
	err := f.each(ctx, "GetUserModels", func(p MetadataProvider) (bool, error) {
		ms, err := p.GetUserModels(ctx, username)
		out = ms
		return len(ms) > 0, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
