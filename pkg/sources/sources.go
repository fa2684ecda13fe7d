// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sources reads pipeline interfaces and size tables from local paths
// or remote go-getter locations.
package sources

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// IsRemote reports whether location needs go-getter, e.g.
// "https://example.org/sizes.tsv" or "git::https://host/repo//piface.yaml".
func IsRemote(location string) bool {
	return strings.Contains(location, "://") || strings.Contains(location, "::")
}

// Resolve joins a relative location onto baseDir, which may itself be
// remote. Remote and absolute locations are returned unchanged.
func Resolve(location, baseDir string) string {
	if IsRemote(location) || filepath.IsAbs(location) || baseDir == "" {
		return location
	}
	if IsRemote(baseDir) {
		base, query, _ := strings.Cut(baseDir, "?")
		joined := strings.TrimSuffix(base, "/") + "/" + filepath.ToSlash(location)
		if query != "" {
			joined += "?" + query
		}
		return joined
	}
	return filepath.Join(baseDir, location)
}

// Dir returns the directory part of location. For remote locations the query
// string is kept so that Resolve can carry it over to siblings.
func Dir(location string) string {
	if !IsRemote(location) {
		return filepath.Dir(location)
	}
	base, query, _ := strings.Cut(location, "?")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}
	if query != "" {
		return base + "?" + query
	}
	return base
}

// Read returns the bytes at location. Local paths are read from fs; remote
// locations are downloaded to a temporary directory on the host filesystem.
func Read(ctx context.Context, fs afero.Fs, location, baseDir string) ([]byte, error) {
	loc := Resolve(location, baseDir)
	if !IsRemote(loc) {
		data, err := afero.ReadFile(fs, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %q", loc)
		}
		return data, nil
	}

	tmpDir, err := os.MkdirTemp("", "looper-source-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}
	defer os.RemoveAll(tmpDir)

	dst := filepath.Join(tmpDir, remoteBase(loc))
	pwd, _ := os.Getwd()
	client := &getter.Client{
		Ctx:  ctx,
		Src:  loc,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return nil, errors.Wrapf(err, "failed to download %q", loc)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read downloaded %q", loc)
	}
	return data, nil
}

// remoteBase keeps the file extension of a remote location so callers can
// still dispatch on it.
func remoteBase(loc string) string {
	trimmed := loc
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	base := path.Base(trimmed)
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	return base
}
