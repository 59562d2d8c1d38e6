package component

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Component is a read-only view of one stored artifact set: a
// (group, name, version) triple inside a repository, with its tags and assets.
type Component struct {
	Group      string
	Name       string
	Version    string
	CreatedAt  int64 // epoch seconds
	Repository string
	Tags       []Tag
	Assets     []Asset
}

// Asset is one file belonging to a component.
type Asset struct {
	Path        string
	ContentType string
	Size        int64
	BlobRef     string // storage reference used to open the content
}

// FailedCheck ties a component to a policy violation found by one check.
type FailedCheck struct {
	Component *Component
	Check     string
	Problem   string
}

// Key returns the stable identity string used for pagination. It depends
// only on the business identity, so it survives re-ingestion.
func Key(repository, group, name, version string) string {
	d := xxhash.New()
	_, _ = d.WriteString(repository)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(group)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(name)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(version)
	return fmt.Sprintf("%016x", d.Sum64())
}

// Key returns the component's pagination identity.
func (c *Component) Key() string {
	return Key(c.Repository, c.Group, c.Name, c.Version)
}

// Coordinates renders group:name:version.
func (c *Component) Coordinates() string {
	return c.Group + ":" + c.Name + ":" + c.Version
}

// TagNames lists the names of all tags attached to the component.
func (c *Component) TagNames() []string {
	names := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		names = append(names, t.Name)
	}
	return names
}

// HasTag reports whether a tag with the given name is attached.
func (c *Component) HasTag(name string) bool {
	for _, t := range c.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AssetPaths lists asset paths in stored order.
func (c *Component) AssetPaths() []string {
	paths := make([]string, 0, len(c.Assets))
	for _, a := range c.Assets {
		paths = append(paths, a.Path)
	}
	return paths
}

// Less orders components by group, then name, then version.
func Less(a, b *Component) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Version < b.Version
}

// SortComponents sorts in place by group, name, version.
func SortComponents(cs []*Component) {
	sort.SliceStable(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })
}

// SortFailures sorts in place by the failing component's coordinates, then
// by check name.
func SortFailures(fs []FailedCheck) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i].Component, fs[j].Component
		if a.Coordinates() != b.Coordinates() {
			return Less(a, b)
		}
		return fs[i].Check < fs[j].Check
	})
}
