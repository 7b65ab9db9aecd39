// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/modelwatch/internal/transport"
)

// MirrorProvider talks to a community mirror of the catalog. The mirror is
// assembled from scraped data, so its schemas drift: field names vary between
// snapshots, booleans arrive as strings, and version documents sometimes point
// at a different model id than the one the mirror indexed them under. All of
// that inconsistency is absorbed here; callers see canonical payloads only.
type MirrorProvider struct {
	client  *transport.Client
	baseURL string
}

// NewMirrorProvider creates a provider for a mirror host.
func NewMirrorProvider(client *transport.Client, baseURL string) *MirrorProvider {
	return &MirrorProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements MetadataProvider.
func (p *MirrorProvider) Name() string { return "mirror" }

func (p *MirrorProvider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, _, err := p.client.MakeRequest(ctx, http.MethodGet, p.baseURL+path, false, params)
	if err != nil {
		return nil, mapTransportError(p.Name(), err)
	}
	return body, nil
}

// GetModelByHash implements MetadataProvider.
func (p *MirrorProvider) GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/hash/"+url.PathEscape(strings.ToUpper(hash)), nil)
	if err != nil {
		return nil, err
	}
	v, err := p.parseVersion(gjson.ParseBytes(StripEmbeddedMetadata(body)))
	if err != nil {
		log.Warnf("mirror: malformed hash response for %s: %v", hash, err)
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	return v, nil
}

// GetModelVersions implements MetadataProvider.
func (p *MirrorProvider) GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error) {
	return p.getModelVersions(ctx, modelID, true)
}

// getModelVersions fetches a model document. Mirror snapshots occasionally
// index a version set under a stale model id while the documents inside carry
// the corrected one; when every returned version agrees on a different model
// id, the lookup is re-issued once against that id.
func (p *MirrorProvider) getModelVersions(ctx context.Context, modelID int64, allowRedirect bool) (*VersionListPayload, error) {
	if modelID == 0 {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/models/"+strconv.FormatInt(modelID, 10), nil)
	if err != nil {
		return nil, err
	}
	list, err := p.parseModel(body)
	if err != nil {
		log.Warnf("mirror: malformed model response for %d: %v", modelID, err)
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}

	if allowRedirect {
		if corrected := correctedModelID(list, modelID); corrected != 0 {
			log.Infof("mirror: model %d redirected to %d, re-issuing lookup", modelID, corrected)
			return p.getModelVersions(ctx, corrected, false)
		}
	}
	return list, nil
}

// correctedModelID returns the model id all versions agree on when it differs
// from the requested one, or 0 when no redirect is needed.
func correctedModelID(list *VersionListPayload, requested int64) int64 {
	var corrected int64
	for i := range list.Versions {
		mid := list.Versions[i].ModelID
		if mid == 0 || mid == requested {
			return 0
		}
		if corrected == 0 {
			corrected = mid
		} else if corrected != mid {
			return 0
		}
	}
	return corrected
}

// GetModelVersionsBulk implements MetadataProvider. The mirror has no bulk
// endpoint; callers fall back to per-model lookups.
func (p *MirrorProvider) GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error) {
	return nil, ErrBulkUnsupported
}

// GetModelVersion implements MetadataProvider.
func (p *MirrorProvider) GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error) {
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

// GetModelVersionInfo implements MetadataProvider. Some mirror snapshots only
// hold a bare file listing for a version; when version metadata is missing but
// a file hash is present, a secondary by-hash lookup fills in the rest before
// the provider gives up.
func (p *MirrorProvider) GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error) {
	if versionID == 0 {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/model-versions/"+strconv.FormatInt(versionID, 10), nil)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(StripEmbeddedMetadata(body))

	v, err := p.parseVersion(root)
	if err == nil {
		return v, nil
	}

	// Partial document: try to recover via the hash of any listed file.
	if hash := firstListedHash(root); hash != "" {
		log.Debugf("mirror: version %d has files but no metadata, retrying by hash", versionID)
		if v, herr := p.GetModelByHash(ctx, hash); herr == nil {
			return v, nil
		}
	}
	log.Warnf("mirror: malformed version response for %d: %v", versionID, err)
	return nil, &TransientError{Provider: p.Name(), Err: err}
}

// firstListedHash pulls an SHA256 out of a partial version document's file
// listing, checking the field spellings seen across mirror snapshots.
func firstListedHash(root gjson.Result) string {
	for _, key := range []string{"files", "fileList"} {
		for _, fr := range root.Get(key).Array() {
			for _, hk := range []string{"hashes.SHA256", "hashes.sha256", "sha256"} {
				if h := fr.Get(hk).String(); h != "" {
					return strings.ToUpper(h)
				}
			}
		}
	}
	return ""
}

// GetUserModels implements MetadataProvider.
func (p *MirrorProvider) GetUserModels(ctx context.Context, username string) ([]ModelSummary, error) {
	if username == "" {
		return nil, ErrNotFound
	}
	params := url.Values{}
	params.Set("user", username)
	body, err := p.get(ctx, "/models", params)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	items := root.Get("items")
	if !items.IsArray() {
		items = root.Get("models")
	}
	if !items.IsArray() {
		return nil, &TransientError{Provider: p.Name(), Err: fmt.Errorf("listing response has no items")}
	}
	arr := items.Array()
	out := make([]ModelSummary, 0, len(arr))
	for _, item := range arr {
		out = append(out, ModelSummary{
			ID:     item.Get("id").Int(),
			Name:   item.Get("name").String(),
			Type:   item.Get("type").String(),
			Stats:  parseStats(item.Get("stats")),
			Source: p.Name(),
		})
	}
	return out, nil
}

// parseModel normalizes a mirror model document. Version sets appear under
// "modelVersions" in newer snapshots and "versions" in older ones.
func (p *MirrorProvider) parseModel(raw []byte) (*VersionListPayload, error) {
	root := gjson.ParseBytes(StripEmbeddedMetadata(raw))
	modelID := root.Get("id").Int()
	if modelID == 0 {
		modelID = root.Get("modelId").Int()
	}
	if modelID == 0 {
		return nil, fmt.Errorf("model document has no id")
	}
	list := &VersionListPayload{
		ModelID: modelID,
		Name:    root.Get("name").String(),
		Type:    root.Get("type").String(),
		Source:  p.Name(),
	}
	modelRef := ModelRef{
		Name:        root.Get("name").String(),
		Type:        root.Get("type").String(),
		NSFW:        TruthyFlag(root.Get("nsfw")),
		Description: root.Get("description").String(),
		Tags:        parseStringList(root.Get("tags")),
	}

	versions := root.Get("modelVersions")
	if !versions.IsArray() {
		versions = root.Get("versions")
	}
	for _, vr := range versions.Array() {
		v, err := p.parseVersion(vr)
		if err != nil {
			log.Debugf("mirror: skipping malformed version in model %d: %v", modelID, err)
			continue
		}
		if v.ModelID == 0 {
			v.ModelID = modelID
		}
		if v.Model.Name == "" {
			v.Model = modelRef
		}
		list.Versions = append(list.Versions, *v)
	}
	return list, nil
}

// parseVersion normalizes one mirror version document.
func (p *MirrorProvider) parseVersion(r gjson.Result) (*VersionPayload, error) {
	id := r.Get("id").Int()
	if id == 0 {
		id = r.Get("versionId").Int()
	}
	if id == 0 {
		return nil, fmt.Errorf("version document has no id")
	}

	v := &VersionPayload{
		ID:          id,
		ModelID:     r.Get("modelId").Int(),
		Name:        r.Get("name").String(),
		BaseModel:   r.Get("baseModel").String(),
		Description: r.Get("description").String(),
		Stats:       parseStats(r.Get("stats")),
		Source:      p.Name(),
	}
	if v.BaseModel == "" {
		v.BaseModel = r.Get("base_model").String()
	}
	v.CreatedAt = parseTimestamp(r.Get("createdAt"))
	if v.CreatedAt == nil {
		v.CreatedAt = parseTimestamp(r.Get("created_at"))
	}
	v.PublishedAt = parseTimestamp(r.Get("publishedAt"))

	// Trigger words travel under three different names across snapshots.
	for _, key := range []string{"trainedWords", "triggerWords", "trainWords"} {
		if words := parseStringList(r.Get(key)); words != nil {
			v.TrainedWords = words
			break
		}
	}

	files := r.Get("files")
	if !files.IsArray() {
		files = r.Get("fileList")
	}
	for _, fr := range files.Array() {
		hashes := make(map[string]string)
		fr.Get("hashes").ForEach(func(k, val gjson.Result) bool {
			hashes[strings.ToUpper(k.String())] = val.String()
			return true
		})
		if h := fr.Get("sha256").String(); h != "" && hashes["SHA256"] == "" {
			hashes["SHA256"] = h
		}
		f := FilePayload{
			ID:      fr.Get("id").Int(),
			Name:    fr.Get("name").String(),
			Type:    fr.Get("type").String(),
			SizeKB:  fr.Get("sizeKB").Float(),
			Primary: TruthyFlag(fr.Get("primary")),
			Hashes:  UppercaseHashes(hashes),
			URL:     fr.Get("downloadUrl").String(),
		}
		if f.SizeKB == 0 {
			f.SizeKB = fr.Get("size_kb").Float()
		}
		if f.Type == "" {
			f.Type = "Model"
		}
		if f.URL == "" {
			f.URL = firstLiveMirror(fr.Get("mirrors"))
		}
		// A live mirror entry marks the servable copy; treat it as primary
		// when no file carries an explicit flag.
		if !f.Primary && f.URL != "" && fr.Get("mirrors").IsArray() {
			f.Primary = true
		}
		v.Files = append(v.Files, f)
	}

	images := r.Get("images")
	if !images.IsArray() {
		images = r.Get("imageList")
	}
	for _, ir := range images.Array() {
		u := ir.Get("url").String()
		if u == "" {
			u = ir.Get("src").String()
		}
		v.Images = append(v.Images, ImagePayload{
			URL:    NormalizePreviewURL(u),
			NSFW:   ir.Get("nsfw").String(),
			Width:  int(ir.Get("width").Int()),
			Height: int(ir.Get("height").Int()),
		})
	}
	if v.DownloadURL = r.Get("downloadUrl").String(); v.DownloadURL == "" {
		if f := v.PrimaryFile(); f != nil {
			v.DownloadURL = f.URL
		}
	}
	return v, nil
}

// firstLiveMirror picks the first mirror entry whose deletion timestamp is
// unset. Deleted mirrors stay in the list with a deletionAt marker.
func firstLiveMirror(mirrors gjson.Result) string {
	if !mirrors.IsArray() {
		return ""
	}
	for _, m := range mirrors.Array() {
		if m.Get("deletionAt").Exists() && m.Get("deletionAt").String() != "" {
			continue
		}
		if m.Get("deleted_at").Exists() && m.Get("deleted_at").String() != "" {
			continue
		}
		if u := m.Get("url").String(); u != "" {
			return u
		}
	}
	return ""
}
