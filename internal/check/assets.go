package check

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/gobwas/glob"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
)

const checksumSuffix = ".sha1"

// RequiredAssets fails a component when a required asset pattern matches
// nothing, or when checksums are demanded and an asset has no ".sha1"
// sibling.
//
// Settings: patterns, checksums.
type RequiredAssets struct {
	name      string
	patterns  []string
	globs     []glob.Glob
	checksums bool
}

func NewRequiredAssets(name string, settings map[string]any, _ Deps) (browser.ValidationCheck, error) {
	patterns, err := settingStrings(settings, "patterns")
	if err != nil {
		return nil, err
	}
	checksums, err := settingBool(settings, "checksums")
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 && !checksums {
		return nil, fmt.Errorf("setting patterns or checksums is required")
	}

	r := &RequiredAssets{name: name, patterns: patterns, checksums: checksums}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		r.globs = append(r.globs, g)
	}
	return r, nil
}

func (r *RequiredAssets) Name() string { return r.name }

func (r *RequiredAssets) Validate(_ context.Context, _ browser.TaskConfig, c *component.Component, sink browser.FailureSink) {
	paths := c.AssetPaths()
	for i, g := range r.globs {
		if !anyMatch(g, paths) {
			sink.Fail(c, fmt.Sprintf("no asset matches %s", r.patterns[i]))
		}
	}
	if !r.checksums {
		return
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	for _, p := range paths {
		if strings.HasSuffix(p, checksumSuffix) {
			continue
		}
		if !present[p+checksumSuffix] {
			sink.Fail(c, fmt.Sprintf("missing checksum for %s", p))
		}
	}
}

func anyMatch(g glob.Glob, paths []string) bool {
	for _, p := range paths {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Checksum verifies every asset that has a ".sha1" sibling against the
// digest recorded there. With require set, an asset without a sibling fails
// too.
//
// Settings: require.
type Checksum struct {
	name    string
	require bool
	assets  AssetOpener
}

func NewChecksum(name string, settings map[string]any, deps Deps) (browser.ValidationCheck, error) {
	if deps.Assets == nil {
		return nil, fmt.Errorf("checksum check needs asset storage")
	}
	require, err := settingBool(settings, "require")
	if err != nil {
		return nil, err
	}
	return &Checksum{name: name, require: require, assets: deps.Assets}, nil
}

func (k *Checksum) Name() string { return k.name }

func (k *Checksum) Validate(ctx context.Context, _ browser.TaskConfig, c *component.Component, sink browser.FailureSink) {
	byPath := make(map[string]component.Asset, len(c.Assets))
	for _, a := range c.Assets {
		byPath[a.Path] = a
	}

	for _, a := range c.Assets {
		if strings.HasSuffix(a.Path, checksumSuffix) {
			continue
		}
		sibling, ok := byPath[a.Path+checksumSuffix]
		if !ok {
			if k.require {
				sink.Fail(c, fmt.Sprintf("missing checksum for %s", a.Path))
			}
			continue
		}

		want, err := k.readDigest(ctx, sibling.BlobRef)
		if err != nil {
			sink.Fail(c, fmt.Sprintf("cannot read %s: %v", sibling.Path, err))
			continue
		}
		got, err := k.digest(ctx, a.BlobRef)
		if err != nil {
			sink.Fail(c, fmt.Sprintf("cannot read %s: %v", a.Path, err))
			continue
		}
		if got != want {
			sink.Fail(c, fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", a.Path, want, got))
		}
	}
}

func (k *Checksum) digest(ctx context.Context, ref string) (string, error) {
	rc, err := k.assets.Open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha1.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readDigest reads the first word of a checksum file, as written by sha1sum.
func (k *Checksum) readDigest(ctx context.Context, ref string) (string, error) {
	rc, err := k.assets.Open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	line, err := bufio.NewReader(io.LimitReader(rc, 1024)).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	return strings.ToLower(fields[0]), nil
}
