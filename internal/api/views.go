package api

import (
	"time"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
	"component-deployer/internal/notify"
)

type tagView struct {
	Name       string                         `json:"name"`
	Attributes map[string]component.AttrValue `json:"attributes,omitempty"`
}

type assetView struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	BlobRef     string `json:"blob_ref,omitempty"`
}

// componentView is the JSON form of a component, used for both ingestion
// and reads.
type componentView struct {
	Key        string      `json:"key,omitempty"`
	Repository string      `json:"repository"`
	Group      string      `json:"group"`
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	CreatedAt  int64       `json:"created_at"`
	Tags       []tagView   `json:"tags"`
	Assets     []assetView `json:"assets"`
}

func viewOf(c *component.Component) componentView {
	v := componentView{
		Key:        c.Key(),
		Repository: c.Repository,
		Group:      c.Group,
		Name:       c.Name,
		Version:    c.Version,
		CreatedAt:  c.CreatedAt,
		Tags:       make([]tagView, 0, len(c.Tags)),
		Assets:     make([]assetView, 0, len(c.Assets)),
	}
	for _, t := range c.Tags {
		v.Tags = append(v.Tags, tagView{Name: t.Name, Attributes: t.Attributes})
	}
	for _, a := range c.Assets {
		v.Assets = append(v.Assets, assetView(a))
	}
	return v
}

// toComponent validates an ingestion payload. A zero created_at means now.
func (v componentView) toComponent(now time.Time) (*component.Component, error) {
	if v.Repository == "" || v.Group == "" || v.Name == "" || v.Version == "" {
		return nil, InvalidPayload("repository, group, name and version are required")
	}
	c := &component.Component{
		Repository: v.Repository,
		Group:      v.Group,
		Name:       v.Name,
		Version:    v.Version,
		CreatedAt:  v.CreatedAt,
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = now.Unix()
	}
	for _, t := range v.Tags {
		if t.Name == "" {
			return nil, InvalidPayload("tag name is required")
		}
		attrs := t.Attributes
		if attrs == nil {
			attrs = map[string]component.AttrValue{}
		}
		c.Tags = append(c.Tags, component.Tag{Name: t.Name, Attributes: attrs})
	}
	for _, a := range v.Assets {
		if a.Path == "" {
			return nil, InvalidPayload("asset path is required")
		}
		c.Assets = append(c.Assets, component.Asset(a))
	}
	return c, nil
}

type statsView struct {
	Pages            int   `json:"pages"`
	Seen             int   `json:"seen"`
	Validated        int   `json:"validated"`
	DroppedWatermark int   `json:"dropped_watermark"`
	DroppedFresh     int   `json:"dropped_fresh"`
	DroppedFiltered  int   `json:"dropped_filtered"`
	HighWatermark    int64 `json:"high_watermark"`
}

type selectionView struct {
	ToDeploy []notify.ComponentRef `json:"to_deploy"`
	Failures []notify.Failure      `json:"failures"`
	Stats    statsView             `json:"stats"`
}

func selectionOf(res *browser.Result) selectionView {
	return selectionView{
		ToDeploy: notify.Refs(res.ToDeploy()),
		Failures: notify.Failures(res.Failures()),
		Stats:    statsView(res.Stats()),
	}
}
