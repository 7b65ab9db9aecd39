// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRateLimitRetries is the number of additional attempts made against a
// rate-limited provider before the condition is surfaced to the caller.
const DefaultRateLimitRetries = 2

// maxRetryJitter bounds the random delay added on top of the backend's
// suggested retry-after value.
const maxRetryJitter = 2 * time.Second

// RetryingProvider decorates one provider with bounded retry specifically for
// rate-limit failures. Every other error passes through untouched: transient
// failures are the orchestrator's problem, and retrying a NotFound is
// pointless.
type RetryingProvider struct {
	MetadataProvider
	retries int
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryingProvider wraps inner with up to retries additional attempts on
// rate limit. retries <= 0 selects DefaultRateLimitRetries.
func NewRetryingProvider(inner MetadataProvider, retries int) *RetryingProvider {
	if retries <= 0 {
		retries = DefaultRateLimitRetries
	}
	return &RetryingProvider{
		MetadataProvider: inner,
		retries:          retries,
		sleep:            sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// do runs op, sleeping and retrying while the provider reports rate limiting.
// On budget exhaustion the last RateLimitedError is returned, tagged with the
// provider's name.
func (p *RetryingProvider) do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		rl, ok := IsRateLimited(lastErr)
		if !ok {
			return lastErr
		}
		if rl.Provider == "" {
			rl.Provider = p.Name()
		}
		if attempt >= p.retries {
			log.Warnf("provider %s still rate limited after %d retries", p.Name(), p.retries)
			return lastErr
		}
		delay := rl.RetryAfter + time.Duration(rand.Int63n(int64(maxRetryJitter)))
		log.Infof("provider %s rate limited, retrying in %s (attempt %d/%d)", p.Name(), delay, attempt+1, p.retries)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// GetModelByHash implements MetadataProvider.
func (p *RetryingProvider) GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error) {
	var out *VersionPayload
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetModelByHash(ctx, hash)
		return err
	})
	return out, err
}

// GetModelVersions implements MetadataProvider.
func (p *RetryingProvider) GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error) {
	var out *VersionListPayload
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetModelVersions(ctx, modelID)
		return err
	})
	return out, err
}

// GetModelVersionsBulk implements MetadataProvider.
func (p *RetryingProvider) GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error) {
	var out map[int64]*VersionListPayload
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetModelVersionsBulk(ctx, modelIDs)
		return err
	})
	return out, err
}

// GetModelVersion implements MetadataProvider.
func (p *RetryingProvider) GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error) {
	var out *VersionPayload
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetModelVersion(ctx, modelID, versionID)
		return err
	})
	return out, err
}

// GetModelVersionInfo implements MetadataProvider.
func (p *RetryingProvider) GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error) {
	var out *VersionPayload
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetModelVersionInfo(ctx, versionID)
		return err
	})
	return out, err
}

// GetUserModels implements MetadataProvider.
func (p *RetryingProvider) GetUserModels(ctx context.Context, username string) ([]ModelSummary, error) {
	var out []ModelSummary
	err := p.do(ctx, func() (err error) {
		out, err = p.MetadataProvider.GetUserModels(ctx, username)
		return err
	})
	return out, err
}
