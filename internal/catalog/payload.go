// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package catalog provides the metadata provider abstraction for remote model
// catalogs. Each backend (authoritative API, mirror API, offline archive)
// normalizes its own wire schema into the canonical payload types defined here;
// the fallback orchestrator and everything above it only ever see these shapes.
package catalog

import (
	"strings"
	"time"
)

// Stats holds aggregate popularity numbers for a model or version.
type Stats struct {
	DownloadCount int64   `json:"downloadCount"`
	RatingCount   int64   `json:"ratingCount"`
	Rating        float64 `json:"rating"`
}

// ModelRef is the model-level envelope carried inside a version payload.
type ModelRef struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	NSFW        bool     `json:"nsfw"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Creator identifies the publishing account on the remote catalog.
type Creator struct {
	Username string `json:"username"`
	Image    string `json:"image,omitempty"`
}

// FilePayload describes one downloadable artifact attached to a version.
// Hashes.SHA256 is always uppercased by the producing provider.
type FilePayload struct {
	ID       int64             `json:"id,omitempty"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	SizeKB   float64           `json:"sizeKB"`
	Primary  bool              `json:"primary"`
	Hashes   map[string]string `json:"hashes,omitempty"`
	URL      string            `json:"downloadUrl,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ImagePayload is a preview image reference. Embedded tool metadata (workflow
// blobs, generation parameters) is stripped before the payload leaves a
// provider; only display fields survive.
type ImagePayload struct {
	URL    string `json:"url"`
	NSFW   string `json:"nsfw,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// VersionPayload is the canonical shape for one model version, identical
// across all provider variants. Source names the backend that produced it.
type VersionPayload struct {
	ID           int64          `json:"id"`
	ModelID      int64          `json:"modelId"`
	Name         string         `json:"name"`
	BaseModel    string         `json:"baseModel,omitempty"`
	Description  string         `json:"description,omitempty"`
	CreatedAt    *time.Time     `json:"createdAt,omitempty"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
	TrainedWords []string       `json:"trainedWords,omitempty"`
	Stats        Stats          `json:"stats"`
	Model        ModelRef       `json:"model"`
	Creator      Creator        `json:"creator"`
	Files        []FilePayload  `json:"files,omitempty"`
	Images       []ImagePayload `json:"images,omitempty"`
	DownloadURL  string         `json:"downloadUrl,omitempty"`
	Source       string         `json:"source"`
}

// VersionListPayload is the canonical answer to a model-level lookup: every
// known version of one model, newest first in the backend's return order.
type VersionListPayload struct {
	ModelID  int64            `json:"modelId"`
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Versions []VersionPayload `json:"modelVersions"`
	Source   string           `json:"source"`
}

// ModelSummary is the lightweight shape returned by user-scoped listings.
type ModelSummary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Stats  Stats  `json:"stats"`
	Source string `json:"source"`
}

// PrimaryFile returns the file entry update tracking should treat as the model
// weights: the first file typed "Model" with the primary flag set, otherwise
// the first file typed "Model", otherwise nil.
func (v *VersionPayload) PrimaryFile() *FilePayload {
	var firstModel *FilePayload
	for i := range v.Files {
		f := &v.Files[i]
		if !strings.EqualFold(f.Type, "Model") {
			continue
		}
		if f.Primary {
			return f
		}
		if firstModel == nil {
			firstModel = f
		}
	}
	return firstModel
}

// SHA256 returns the uppercased SHA256 of the primary file, or "" when the
// version carries no hashed files.
func (v *VersionPayload) SHA256() string {
	f := v.PrimaryFile()
	if f == nil && len(v.Files) > 0 {
		f = &v.Files[0]
	}
	if f == nil {
		return ""
	}
	return f.Hashes["SHA256"]
}
