// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PreviewWidth is the width cap applied to normalized preview URLs.
const PreviewWidth = 450

// NormalizePreviewURL rewrites a raw remote preview URL into the size-capped,
// optimized variant stored in the tracking database. Catalog CDNs encode
// rendering parameters as a comma-separated path segment; any segment carrying
// "original=true" or a width directive is replaced wholesale so full-resolution
// assets are never fetched for thumbnails. URLs without a parameter segment get
// one inserted before the filename. Query strings are dropped.
func NormalizePreviewURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""

	directive := "anim=false,optimized=true,width=" + strconv.Itoa(PreviewWidth)
	segs := strings.Split(u.Path, "/")
	replaced := false
	for i, seg := range segs {
		if isRenderDirective(seg) {
			segs[i] = directive
			replaced = true
		}
	}
	if !replaced && len(segs) > 1 {
		// Insert before the trailing filename segment.
		last := segs[len(segs)-1]
		segs = append(segs[:len(segs)-1], directive, last)
	}
	u.Path = strings.Join(segs, "/")
	return u.String()
}

// isRenderDirective reports whether a path segment is a CDN rendering
// parameter list such as "width=1024" or "original=true,quality=90".
func isRenderDirective(seg string) bool {
	if !strings.Contains(seg, "=") {
		return false
	}
	for _, kv := range strings.Split(seg, ",") {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "original", "width", "height", "anim", "optimized", "quality", "format", "transcode":
		default:
			return false
		}
	}
	return true
}

// FileSizeBytes derives the canonical size of a version from its file list:
// the primary "Model" file's sizeKB converted to bytes (floored), falling back
// to the first listed file when nothing is marked primary. Returns 0 when the
// version has no files at all.
func FileSizeBytes(v *VersionPayload) int64 {
	f := v.PrimaryFile()
	if f == nil {
		if len(v.Files) == 0 {
			return 0
		}
		f = &v.Files[0]
	}
	return int64(math.Floor(f.SizeKB * 1024))
}

// TruthyFlag interprets a loosely typed boolean field as the mirror backends
// emit them: real booleans, "true"/"True"/"1"/"yes" strings, or nonzero
// numbers all count as set.
func TruthyFlag(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.Str)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case gjson.Number:
		return r.Num != 0
	default:
		return false
	}
}

// UppercaseHashes returns a copy of a hash map with SHA-family digests
// uppercased, the form the tracking store indexes on.
func UppercaseHashes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if strings.HasPrefix(strings.ToUpper(k), "SHA") || strings.EqualFold(k, "CRC32") || strings.EqualFold(k, "BLAKE3") {
			out[k] = strings.ToUpper(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// embeddedMetaKeys are image-metadata fields that carry tool-specific payloads
// (workflow graphs, generation parameters). They are removed from raw backend
// JSON before normalization so they never reach the store.
var embeddedMetaKeys = []string{"meta", "metadata.workflow", "metadata.prompt", "generationProcess", "resources"}

// StripEmbeddedMetadata deletes workflow-embedding blobs from every image
// object in a raw version document. The input is returned unchanged if it is
// not valid JSON.
func StripEmbeddedMetadata(raw []byte) []byte {
	if !gjson.ValidBytes(raw) {
		return raw
	}
	images := gjson.GetBytes(raw, "images")
	if !images.IsArray() {
		return raw
	}
	out := raw
	for i := range images.Array() {
		for _, key := range embeddedMetaKeys {
			path := "images." + strconv.Itoa(i) + "." + key
			if gjson.GetBytes(out, path).Exists() {
				if next, err := sjson.DeleteBytes(out, path); err == nil {
					out = next
				}
			}
		}
	}
	return out
}

// parseStats reads the canonical stats triple from a gjson node, tolerating
// absent fields.
func parseStats(r gjson.Result) Stats {
	return Stats{
		DownloadCount: r.Get("downloadCount").Int(),
		RatingCount:   r.Get("ratingCount").Int(),
		Rating:        r.Get("rating").Float(),
	}
}

// parseStringList collects a JSON array of strings, skipping non-string
// members rather than failing the payload.
func parseStringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	arr := r.Array()
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if item.Type == gjson.String && item.Str != "" {
			out = append(out, item.Str)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
