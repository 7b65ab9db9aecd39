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
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/modelwatch/internal/transport"
)

// CivitaiProvider talks to the authoritative catalog REST API. It is the
// richest backend: hash lookup, per-model version listings, bulk listings,
// and user-scoped listings are all native endpoints.
type CivitaiProvider struct {
	client  *transport.Client
	baseURL string
}

// NewCivitaiProvider creates the authoritative API provider. baseURL defaults
// to the public catalog host when empty.
func NewCivitaiProvider(client *transport.Client, baseURL string) *CivitaiProvider {
	if baseURL == "" {
		baseURL = "https://civitai.com/api/v1"
	}
	return &CivitaiProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements MetadataProvider.
func (p *CivitaiProvider) Name() string { return "civitai" }

// mapTransportError translates a transport failure into the catalog error
// taxonomy, tagging rate limits with the provider name.
func mapTransportError(provider string, err error) error {
	if se, ok := err.(*transport.StatusError); ok {
		if se.IsNotFound() {
			return ErrNotFound
		}
		if se.IsRateLimited() {
			return &RateLimitedError{Provider: provider, RetryAfter: se.RetryAfter}
		}
	}
	return &TransientError{Provider: provider, Err: err}
}

func (p *CivitaiProvider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, _, err := p.client.MakeRequest(ctx, http.MethodGet, p.baseURL+path, true, params)
	if err != nil {
		return nil, mapTransportError(p.Name(), err)
	}
	return body, nil
}

// GetModelByHash implements MetadataProvider.
func (p *CivitaiProvider) GetModelByHash(ctx context.Context, hash string) (*VersionPayload, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/model-versions/by-hash/"+url.PathEscape(strings.ToUpper(hash)), nil)
	if err != nil {
		return nil, err
	}
	v, err := p.parseVersion(body)
	if err != nil {
		log.Warnf("civitai: malformed by-hash response for %s: %v", hash, err)
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	return v, nil
}

// GetModelVersions implements MetadataProvider.
func (p *CivitaiProvider) GetModelVersions(ctx context.Context, modelID int64) (*VersionListPayload, error) {
	if modelID == 0 {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/models/"+strconv.FormatInt(modelID, 10), nil)
	if err != nil {
		return nil, err
	}
	list, err := p.parseModel(body)
	if err != nil {
		log.Warnf("civitai: malformed model response for %d: %v", modelID, err)
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	return list, nil
}

// GetModelVersionsBulk implements MetadataProvider. The API accepts up to 100
// ids per listing call; callers are expected to batch accordingly.
func (p *CivitaiProvider) GetModelVersionsBulk(ctx context.Context, modelIDs []int64) (map[int64]*VersionListPayload, error) {
	if len(modelIDs) == 0 {
		return map[int64]*VersionListPayload{}, nil
	}
	params := url.Values{}
	for _, id := range modelIDs {
		params.Add("ids", strconv.FormatInt(id, 10))
	}
	params.Set("limit", strconv.Itoa(len(modelIDs)))
	body, err := p.get(ctx, "/models", params)
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(body, "items")
	if !items.IsArray() {
		return nil, &TransientError{Provider: p.Name(), Err: fmt.Errorf("listing response missing items array")}
	}
	out := make(map[int64]*VersionListPayload, len(modelIDs))
	for _, item := range items.Array() {
		list, err := p.parseModel([]byte(item.Raw))
		if err != nil {
			log.Warnf("civitai: skipping malformed listing item: %v", err)
			continue
		}
		out[list.ModelID] = list
	}
	return out, nil
}

// GetModelVersion implements MetadataProvider.
func (p *CivitaiProvider) GetModelVersion(ctx context.Context, modelID, versionID int64) (*VersionPayload, error) {
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
func (p *CivitaiProvider) GetModelVersionInfo(ctx context.Context, versionID int64) (*VersionPayload, error) {
	if versionID == 0 {
		return nil, ErrNotFound
	}
	body, err := p.get(ctx, "/model-versions/"+strconv.FormatInt(versionID, 10), nil)
	if err != nil {
		return nil, err
	}
	v, err := p.parseVersion(body)
	if err != nil {
		log.Warnf("civitai: malformed version response for %d: %v", versionID, err)
		return nil, &TransientError{Provider: p.Name(), Err: err}
	}
	return v, nil
}

// GetUserModels implements MetadataProvider.
func (p *CivitaiProvider) GetUserModels(ctx context.Context, username string) ([]ModelSummary, error) {
	if username == "" {
		return nil, ErrNotFound
	}
	params := url.Values{}
	params.Set("username", username)
	body, err := p.get(ctx, "/models", params)
	if err != nil {
		return nil, err
	}
	items := gjson.GetBytes(body, "items")
	if !items.IsArray() {
		return nil, &TransientError{Provider: p.Name(), Err: fmt.Errorf("listing response missing items array")}
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

// parseModel normalizes a full model document into a VersionListPayload.
func (p *CivitaiProvider) parseModel(raw []byte) (*VersionListPayload, error) {
	root := gjson.ParseBytes(raw)
	modelID := root.Get("id").Int()
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
		NSFW:        root.Get("nsfw").Bool(),
		Description: root.Get("description").String(),
		Tags:        parseStringList(root.Get("tags")),
	}
	creator := Creator{
		Username: root.Get("creator.username").String(),
		Image:    root.Get("creator.image").String(),
	}
	for _, vr := range root.Get("modelVersions").Array() {
		v, err := p.parseVersionResult(vr)
		if err != nil {
			log.Debugf("civitai: skipping malformed version in model %d: %v", modelID, err)
			continue
		}
		if v.ModelID == 0 {
			v.ModelID = modelID
		}
		v.Model = modelRef
		v.Creator = creator
		list.Versions = append(list.Versions, *v)
	}
	return list, nil
}

// parseVersion normalizes a standalone version document.
func (p *CivitaiProvider) parseVersion(raw []byte) (*VersionPayload, error) {
	raw = StripEmbeddedMetadata(raw)
	v, err := p.parseVersionResult(gjson.ParseBytes(raw))
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(raw)
	v.Model = ModelRef{
		Name:        root.Get("model.name").String(),
		Type:        root.Get("model.type").String(),
		NSFW:        root.Get("model.nsfw").Bool(),
		Description: root.Get("model.description").String(),
		Tags:        parseStringList(root.Get("model.tags")),
	}
	v.Creator = Creator{
		Username: root.Get("creator.username").String(),
		Image:    root.Get("creator.image").String(),
	}
	return v, nil
}

func (p *CivitaiProvider) parseVersionResult(r gjson.Result) (*VersionPayload, error) {
	id := r.Get("id").Int()
	if id == 0 {
		return nil, fmt.Errorf("version document has no id")
	}
	v := &VersionPayload{
		ID:           id,
		ModelID:      r.Get("modelId").Int(),
		Name:         r.Get("name").String(),
		BaseModel:    r.Get("baseModel").String(),
		Description:  r.Get("description").String(),
		TrainedWords: parseStringList(r.Get("trainedWords")),
		Stats:        parseStats(r.Get("stats")),
		DownloadURL:  r.Get("downloadUrl").String(),
		Source:       p.Name(),
	}
	v.CreatedAt = parseTimestamp(r.Get("createdAt"))
	v.PublishedAt = parseTimestamp(r.Get("publishedAt"))

	for _, fr := range r.Get("files").Array() {
		hashes := make(map[string]string)
		fr.Get("hashes").ForEach(func(k, val gjson.Result) bool {
			hashes[k.String()] = val.String()
			return true
		})
		v.Files = append(v.Files, FilePayload{
			ID:      fr.Get("id").Int(),
			Name:    fr.Get("name").String(),
			Type:    fr.Get("type").String(),
			SizeKB:  fr.Get("sizeKB").Float(),
			Primary: TruthyFlag(fr.Get("primary")),
			Hashes:  UppercaseHashes(hashes),
			URL:     fr.Get("downloadUrl").String(),
		})
	}
	for _, ir := range r.Get("images").Array() {
		v.Images = append(v.Images, ImagePayload{
			URL:    NormalizePreviewURL(ir.Get("url").String()),
			NSFW:   ir.Get("nsfw").String(),
			Width:  int(ir.Get("width").Int()),
			Height: int(ir.Get("height").Int()),
		})
	}
	return v, nil
}

// parseTimestamp accepts RFC3339 timestamps, tolerating absent or malformed
// values by returning nil.
func parseTimestamp(r gjson.Result) *time.Time {
	if r.Type != gjson.String || r.Str == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, r.Str)
	if err != nil {
		return nil
	}
	return &t
}
