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

// Package imagebuilder layers a pipeline directory on top of a base image and
// pushes the result, so container backends can run pipelines that are not
// baked into their image.
package imagebuilder

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DockerPlatform represents the target platform for a Docker image.
type DockerPlatform string

const (
	LinuxAMD64 DockerPlatform = "linux/amd64"
	LinuxARM64 DockerPlatform = "linux/arm64"
)

// IgnoreFile is read from the build context root when present.
const IgnoreFile = ".dockerignore"

// DefaultIgnorePatterns keep run outputs and VCS metadata out of the layer.
var DefaultIgnorePatterns = []string{".git", "submission/", "*.log"}

// Builder builds one image per (base image, context directory) pair and
// reuses it for the rest of the run. It is safe for concurrent use.
type Builder struct {
	Fs afero.Fs
	// Registry receives the pushed images, e.g. "gcr.io/my-project".
	Registry string
	// Platform defaults to linux/amd64.
	Platform DockerPlatform
	Log      logrus.FieldLogger

	mu    sync.Mutex
	built map[string]*buildResult
}

type buildResult struct {
	once  sync.Once
	image string
	err   error
}

// Build returns the reference of base with contextDir appended as a layer.
// Concurrent and repeated calls for the same inputs share one build.
func (b *Builder) Build(ctx context.Context, base, contextDir string) (string, error) {
	key := base + "\x00" + contextDir
	b.mu.Lock()
	if b.built == nil {
		b.built = map[string]*buildResult{}
	}
	r, ok := b.built[key]
	if !ok {
		r = &buildResult{}
		b.built[key] = r
	}
	b.mu.Unlock()

	r.once.Do(func() {
		r.image, r.err = b.build(ctx, base, contextDir)
	})
	return r.image, r.err
}

func (b *Builder) build(ctx context.Context, base, contextDir string) (string, error) {
	platformStr := string(b.Platform)
	if platformStr == "" {
		platformStr = string(LinuxAMD64)
	}
	platform, err := parsePlatform(platformStr)
	if err != nil {
		return "", err
	}
	if b.Registry == "" {
		return "", fmt.Errorf("no registry configured for image builds")
	}
	baseRef, err := name.ParseReference(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base image reference %q: %w", base, err)
	}

	fs := b.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	matcher, err := ReadIgnorePatterns(fs, contextDir, DefaultIgnorePatterns)
	if err != nil {
		return "", err
	}
	archive, err := createFilteredTar(fs, contextDir, matcher, b.logger())
	if err != nil {
		return "", fmt.Errorf("failed to create filtered tarball: %w", err)
	}
	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(archive)), nil
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", fmt.Errorf("failed to create layer from tarball: %w", err)
	}
	digest, err := layer.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to digest layer: %w", err)
	}

	imageName := ImageName(b.Registry, digest)
	log := b.logger().WithField("image", imageName)
	log.Infof("Building from base %s and context %s for %s/%s", base, contextDir, platform.OS, platform.Architecture)

	opts := []crane.Option{crane.WithContext(ctx), crane.WithPlatform(&platform)}
	baseImg, err := crane.Pull(baseRef.String(), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to pull base image %q: %w", base, err)
	}
	img, err := mutate.AppendLayers(baseImg, layer)
	if err != nil {
		return "", fmt.Errorf("failed to append layer: %w", err)
	}
	if err := crane.Push(img, imageName, opts...); err != nil {
		return "", fmt.Errorf("failed to push image %q: %w", imageName, err)
	}
	log.Info("Image pushed")
	return imageName, nil
}

// ImageName is "<registry>/<user>-looper-runner:<layer digest prefix>". The
// tag only changes when the context contents do.
func ImageName(registry string, layerDigest v1.Hash) string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	tag := layerDigest.Hex
	if len(tag) > 12 {
		tag = tag[:12]
	}
	return fmt.Sprintf("%s/%s-looper-runner:%s", strings.TrimSuffix(registry, "/"), strings.ToLower(user), tag)
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}

// ReadIgnorePatterns combines defaults with the context's .dockerignore.
func ReadIgnorePatterns(fs afero.Fs, dir string, defaults []string) (*patternmatcher.PatternMatcher, error) {
	patterns := append([]string(nil), defaults...)

	path := filepath.Join(dir, IgnoreFile)
	f, err := fs.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		filePatterns, err := ignorefile.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		patterns = append(patterns, filePatterns...)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// ignored matches relPath against m. Directories get a trailing slash so
// patterns such as "foo/" apply to them.
func ignored(m *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	p := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return m.MatchesOrParentMatches(p)
}

// createFilteredTar returns a gzipped tar of sourceDir. Timestamps are
// zeroed so unchanged contexts produce the same layer digest.
func createFilteredTar(fs afero.Fs, sourceDir string, matcher *patternmatcher.PatternMatcher, log logrus.FieldLogger) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	walkErr := afero.Walk(fs, sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", path, err)
		}
		if relPath == "." {
			return nil
		}
		skip, err := ignored(matcher, relPath, info.IsDir())
		if err != nil {
			return fmt.Errorf("failed to check ignore patterns for %q: %w", path, err)
		}
		if skip {
			log.Debugf("Ignoring %q", relPath)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %q: %w", path, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		}
		header.ModTime = time.Unix(0, 0)
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}
		header.Uname, header.Gname = "", ""
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %q: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := fs.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file %q: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to write file content for %q: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Builder) logger() logrus.FieldLogger {
	if b.Log == nil {
		return logrus.StandardLogger()
	}
	return b.Log
}
