// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import "context"

// MetadataProvider is the capability every catalog backend implements. All six
// operations return canonical payloads; backend-specific schemas never escape
// the implementing provider.
//
// Error conventions shared by every operation:
//   - ErrNotFound for permanent absence,
//   - *RateLimitedError when the backend asks the caller to slow down,
//   - *TransientError for network/HTTP/parse failures,
//   - ErrBulkUnsupported only from GetModelVersionsBulk.
type MetadataProvider interface {
	// Name returns the stable identifier for this backend ("civitai",
	// "mirror", "archive").
	Name() string

	// GetModelByHash resolves a file hash (SHA256, case-insensitive) to the
	// version that contains it.
	GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error)

	// GetModelVersions returns every known version of a model, newest first.
	GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error)

	// GetModelVersionsBulk answers GetModelVersions for many models in one
	// round trip. Models absent from the result were not found. Backends
	// without a bulk endpoint return ErrBulkUnsupported.
	GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error)

	// GetModelVersion fetches one version. At least one of modelID/versionID
	// must be non-zero; both zero is a caller error and yields ErrNotFound.
	// With only modelID set, the latest version is returned.
	GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error)

	// GetModelVersionInfo fetches a version by its globally addressable
	// version id alone.
	GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error)

	// GetUserModels lists the models published by a catalog account.
	GetUserModels(ctx context.Context, username string) ([]ModelSummary, error)
}
