// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracking persists what is known about every tracked model (which
// versions exist remotely, which are held locally, and which the user has
// suppressed) and derives the "has update" predicate from that state.
package tracking

import "time"

// VersionRecord is one remote version of one model as the store remembers it.
// Version ids repeat across models; a VersionRecord is only meaningful inside
// its owning UpdateRecord.
type VersionRecord struct {
	VersionID    int64      `json:"version_id"`
	Name         string     `json:"name,omitempty"`
	BaseModel    string     `json:"base_model,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	SizeBytes    int64      `json:"size_bytes,omitempty"`
	PreviewURL   string     `json:"preview_url,omitempty"`
	IsInLibrary  bool       `json:"is_in_library"`
	ShouldIgnore bool       `json:"should_ignore"`
}

// UpdateRecord is the persisted state for one (model type, model id) pair.
// Versions hold the provider's return order, newest first by convention.
type UpdateRecord struct {
	ModelType         string          `json:"model_type"`
	ModelID           int64           `json:"model_id"`
	Versions          []VersionRecord `json:"versions"`
	LastCheckedAt     time.Time       `json:"last_checked_at"`
	ShouldIgnoreModel bool            `json:"should_ignore_model"`

	// ClearIgnoreModel lets an upsert overwrite a stored model-level ignore
	// with ShouldIgnoreModel instead of preserving it. The refresh engine
	// sets it when a model previously marked missing reappears in a
	// non-empty provider response.
	ClearIgnoreModel bool `json:"-"`
}

// HasUpdate reports whether a newer usable version exists remotely: some
// version not in the library and not ignored whose id is greater than every
// in-library version's id. Version ids are assigned monotonically by the
// remote source, so "newer" is defined by id order alone, not release dates.
// A model-level ignore forces false.
func (r *UpdateRecord) HasUpdate() bool {
	if r == nil || r.ShouldIgnoreModel {
		return false
	}
	var maxHeld int64 = -1
	for i := range r.Versions {
		if r.Versions[i].IsInLibrary && r.Versions[i].VersionID > maxHeld {
			maxHeld = r.Versions[i].VersionID
		}
	}
	for i := range r.Versions {
		v := &r.Versions[i]
		if !v.IsInLibrary && !v.ShouldIgnore && v.VersionID > maxHeld {
			return true
		}
	}
	return false
}

// LatestVersion returns the highest version id the store knows for this
// model, or 0 when no versions are recorded.
func (r *UpdateRecord) LatestVersion() int64 {
	var max int64
	for i := range r.Versions {
		if r.Versions[i].VersionID > max {
			max = r.Versions[i].VersionID
		}
	}
	return max
}
