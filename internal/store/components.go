package store

import (
	"context"
	"database/sql"
	"fmt"

	"component-deployer/internal/component"
)

const componentColumns = "component_key, repository, namespace, name, version, created"

// PutComponent inserts c or replaces the stored copy with the same
// identity, including its tags and assets.
func (s *Store) PutComponent(ctx context.Context, c *component.Component) error {
	if c.Repository == "" || c.Name == "" || c.Version == "" {
		return fmt.Errorf("component %s: repository, name and version are required", c.Coordinates())
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	key := c.Key()
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`INSERT INTO components (%s) VALUES (%s, %s, %s, %s, %s, %s)
ON CONFLICT (component_key) DO UPDATE SET created = EXCLUDED.created`,
		componentColumns,
		pb.Add(key), pb.Add(c.Repository), pb.Add(c.Group), pb.Add(c.Name), pb.Add(c.Version),
		pb.Add(Timestamp(c.CreatedAt)),
	)
	if _, err := tx.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("upsert component: %w", s.Dialect.MapError(err))
	}

	if err := s.replaceDetails(ctx, tx, key, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) replaceDetails(ctx context.Context, tx *sql.Tx, key string, c *component.Component) error {
	p := s.Dialect.Placeholder
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM component_tags WHERE component_key = %s", p(1)), key); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM component_assets WHERE component_key = %s", p(1)), key); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}

	insertTag := fmt.Sprintf("INSERT INTO component_tags (component_key, tag, attributes) VALUES (%s, %s, %s)", p(1), p(2), p(3))
	for _, t := range c.Tags {
		attrs, err := component.EncodeAttributes(t.Attributes)
		if err != nil {
			return fmt.Errorf("tag %s: %w", t.Name, err)
		}
		if _, err := tx.ExecContext(ctx, insertTag, key, t.Name, attrs); err != nil {
			return fmt.Errorf("insert tag %s: %w", t.Name, s.Dialect.MapError(err))
		}
	}

	insertAsset := fmt.Sprintf(
		"INSERT INTO component_assets (component_key, position, path, content_type, size, blob_ref) VALUES (%s, %s, %s, %s, %s, %s)",
		p(1), p(2), p(3), p(4), p(5), p(6))
	for i, a := range c.Assets {
		if _, err := tx.ExecContext(ctx, insertAsset, key, i, a.Path, a.ContentType, a.Size, a.BlobRef); err != nil {
			return fmt.Errorf("insert asset %s: %w", a.Path, s.Dialect.MapError(err))
		}
	}
	return nil
}

// GetComponent loads one component by its key.
func (s *Store) GetComponent(ctx context.Context, key string) (*component.Component, error) {
	row, err := QueryRow(ctx, s.DB,
		fmt.Sprintf("SELECT %s FROM components WHERE component_key = %s", componentColumns, s.Dialect.Placeholder(1)),
		key)
	if err != nil {
		return nil, err
	}
	c, err := componentFromRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadDetails(ctx, []*component.Component{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteComponent removes a component with its tags and assets. It reports
// ErrNotFound when the component does not exist.
func (s *Store) DeleteComponent(ctx context.Context, key string) error {
	p := s.Dialect.Placeholder(1)
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int64
	for _, table := range []string{"component_tags", "component_assets", "components"} {
		n, err = Exec(ctx, tx, fmt.Sprintf("DELETE FROM %s WHERE component_key = %s", table, p), key)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func componentFromRow(row map[string]any) (*component.Component, error) {
	created, err := toUnix(row["created"])
	if err != nil {
		return nil, fmt.Errorf("component %v: %w", row["component_key"], err)
	}
	return &component.Component{
		Repository: asString(row["repository"]),
		Group:      asString(row["namespace"]),
		Name:       asString(row["name"]),
		Version:    asString(row["version"]),
		CreatedAt:  created,
	}, nil
}

// loadDetails fills tags and assets for a page of components with one query
// per table.
func (s *Store) loadDetails(ctx context.Context, cs []*component.Component) error {
	if len(cs) == 0 {
		return nil
	}
	byKey := make(map[string]*component.Component, len(cs))
	keys := make([]string, 0, len(cs))
	for _, c := range cs {
		k := c.Key()
		byKey[k] = c
		keys = append(keys, k)
	}

	pb := s.Dialect.NewParamBuilder()
	tagRows, err := QueryRows(ctx, s.DB,
		fmt.Sprintf("SELECT component_key, tag, attributes FROM component_tags WHERE %s ORDER BY component_key, tag",
			InExpr("component_key", pb, keys)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	for _, row := range tagRows {
		c := byKey[asString(row["component_key"])]
		if c == nil {
			continue
		}
		attrs, err := component.DecodeAttributes(asString(row["attributes"]))
		if err != nil {
			return fmt.Errorf("tag %v of %s: %w", row["tag"], c.Coordinates(), err)
		}
		c.Tags = append(c.Tags, component.Tag{Name: asString(row["tag"]), Attributes: attrs})
	}

	pb = s.Dialect.NewParamBuilder()
	assetRows, err := QueryRows(ctx, s.DB,
		fmt.Sprintf("SELECT component_key, path, content_type, size, blob_ref FROM component_assets WHERE %s ORDER BY component_key, position",
			InExpr("component_key", pb, keys)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	for _, row := range assetRows {
		c := byKey[asString(row["component_key"])]
		if c == nil {
			continue
		}
		c.Assets = append(c.Assets, component.Asset{
			Path:        asString(row["path"]),
			ContentType: asString(row["content_type"]),
			Size:        asInt64(row["size"]),
			BlobRef:     asString(row["blob_ref"]),
		})
	}
	return nil
}
