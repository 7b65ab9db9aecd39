// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scanner reports which model versions the local library currently
// holds. The refresh engine only ever reads its output; the scanner never
// mutates tracking state itself (the watcher pushes library changes into the
// store, but through the store's own operations).
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/modelwatch/internal/tracking"
)

// SidecarSuffix is appended to a model filename to name its descriptor.
// Descriptors are written next to each downloaded file and are the source of
// truth for which remote version a local file corresponds to.
const SidecarSuffix = ".mw.json"

// Sidecar is the on-disk descriptor for one held model file.
type Sidecar struct {
	ModelType string `json:"modelType"`
	ModelID   int64  `json:"modelId"`
	VersionID int64  `json:"versionId"`
	SHA256    string `json:"sha256,omitempty"`
}

// Scanner supplies the currently held local models grouped by model type.
type Scanner interface {
	Scan() (map[string][]tracking.LocalModel, error)
}

// DirScanner walks a set of library roots looking for sidecar descriptors.
type DirScanner struct {
	roots []string
}

// NewDirScanner creates a scanner over the given library roots. Roots that do
// not exist are skipped at scan time, not treated as errors; libraries on
// removable storage come and go.
func NewDirScanner(roots ...string) *DirScanner {
	return &DirScanner{roots: roots}
}

// Scan implements Scanner.
func (s *DirScanner) Scan() (map[string][]tracking.LocalModel, error) {
	out := make(map[string][]tracking.LocalModel)
	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			log.Debugf("scanner: skipping unavailable root %s", root)
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warnf("scanner: cannot read %s: %v", path, err)
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(path, SidecarSuffix) {
				return nil
			}
			sc, err := readSidecar(path)
			if err != nil {
				log.Warnf("scanner: unreadable sidecar %s: %v", path, err)
				return nil
			}
			// A sidecar whose model file vanished no longer counts as held.
			if _, err := os.Stat(strings.TrimSuffix(path, SidecarSuffix)); err != nil {
				return nil
			}
			out[sc.ModelType] = append(out[sc.ModelType], tracking.LocalModel{
				ModelID:   sc.ModelID,
				VersionID: sc.VersionID,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// readSidecar parses one descriptor file.
func readSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.ModelType == "" {
		sc.ModelType = "checkpoint"
	}
	return &sc, nil
}

// WriteSidecar persists a descriptor for a freshly downloaded model file.
func WriteSidecar(modelPath string, sc *Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(modelPath+SidecarSuffix, data, 0o644)
}
