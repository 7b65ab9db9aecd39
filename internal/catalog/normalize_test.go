// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestNormalizePreviewURL_RewritesOriginal(t *testing.T) {
	raw := "https://image.example.com/xG1nkqKTMzGDvpLrqFT7WA/abc-123/original=true,quality=90/preview.jpeg?token=secret"
	got := NormalizePreviewURL(raw)

	assert.NotContains(t, got, "original=true")
	assert.NotContains(t, got, "token=secret")
	assert.Contains(t, got, "optimized=true")
	assert.Contains(t, got, "width=450")
	assert.True(t, strings.HasSuffix(got, "/preview.jpeg"))
}

func TestNormalizePreviewURL_CapsWidth(t *testing.T) {
	raw := "https://image.example.com/abc/width=4096/full.png"
	got := NormalizePreviewURL(raw)
	assert.Equal(t, "https://image.example.com/abc/anim=false,optimized=true,width=450/full.png", got)
}

func TestNormalizePreviewURL_InsertsDirectiveWhenMissing(t *testing.T) {
	got := NormalizePreviewURL("https://image.example.com/abc/plain.png")
	assert.Equal(t, "https://image.example.com/abc/anim=false,optimized=true,width=450/plain.png", got)
}

func TestNormalizePreviewURL_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizePreviewURL(""))
}

func TestFileSizeBytes_PrimaryFile(t *testing.T) {
	v := &VersionPayload{Files: []FilePayload{
		{Type: "VAE", SizeKB: 100},
		{Type: "Model", SizeKB: 2048.5, Primary: true},
		{Type: "Model", SizeKB: 1},
	}}
	// 2048.5 KB * 1024, floored.
	assert.Equal(t, int64(2097664), FileSizeBytes(v))
}

func TestFileSizeBytes_FallsBackToFirstFile(t *testing.T) {
	v := &VersionPayload{Files: []FilePayload{
		{Type: "Config", SizeKB: 4},
		{Type: "VAE", SizeKB: 800},
	}}
	assert.Equal(t, int64(4096), FileSizeBytes(v))
}

func TestFileSizeBytes_NoFiles(t *testing.T) {
	assert.Equal(t, int64(0), FileSizeBytes(&VersionPayload{}))
}

func TestTruthyFlag(t *testing.T) {
	cases := map[string]bool{
		`true`:    true,
		`false`:   false,
		`"true"`:  true,
		`"True"`:  true,
		`"1"`:     true,
		`"yes"`:   true,
		`"no"`:    false,
		`1`:       true,
		`0`:       false,
		`null`:    false,
		`"maybe"`: false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, TruthyFlag(gjson.Parse(raw)), "raw=%s", raw)
	}
}

func TestUppercaseHashes(t *testing.T) {
	got := UppercaseHashes(map[string]string{
		"SHA256": "abc123def",
		"AutoV2": "mixedCase",
	})
	assert.Equal(t, "ABC123DEF", got["SHA256"])
	assert.Equal(t, "mixedCase", got["AutoV2"])
	assert.Nil(t, UppercaseHashes(nil))
}

func TestStripEmbeddedMetadata(t *testing.T) {
	raw := []byte(`{
		"id": 1,
		"images": [
			{"url": "https://x/img.png", "meta": {"workflow": "{...giant blob...}", "prompt": "secret"}},
			{"url": "https://x/img2.png", "generationProcess": "txt2img"}
		]
	}`)
	got := StripEmbeddedMetadata(raw)

	assert.False(t, gjson.GetBytes(got, "images.0.meta").Exists())
	assert.False(t, gjson.GetBytes(got, "images.1.generationProcess").Exists())
	assert.Equal(t, "https://x/img.png", gjson.GetBytes(got, "images.0.url").String())
	assert.Equal(t, int64(1), gjson.GetBytes(got, "id").Int())
}

func TestStripEmbeddedMetadata_InvalidJSON(t *testing.T) {
	raw := []byte(`not-json`)
	assert.Equal(t, raw, StripEmbeddedMetadata(raw))
}
