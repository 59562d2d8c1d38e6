package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	rqlitesql "github.com/rqlite/sql"

	"component-deployer/internal/browser"
)

// ErrInvalidSelector is returned when a selector expression is rejected.
var ErrInvalidSelector = errors.New("invalid selector expression")

var selectorName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const selectorCacheSize = 256

// Selector is a stored content selector: a named boolean SQL expression over
// the components table.
type Selector struct {
	Name        string    `json:"name"`
	Expression  string    `json:"expression"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Selectors manages content selectors and resolves them for the browser.
// Resolutions are cached until the selector is written or deleted.
type Selectors struct {
	store *Store
	cache *lru.Cache[string, browser.SelectorExpression]
}

// NewSelectors creates the selector repository.
func NewSelectors(s *Store) (*Selectors, error) {
	cache, err := lru.New[string, browser.SelectorExpression](selectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("selector cache: %w", err)
	}
	return &Selectors{store: s, cache: cache}, nil
}

// Resolve implements browser.SelectorResolver.
func (s *Selectors) Resolve(ctx context.Context, name string) (*browser.SelectorExpression, bool, error) {
	if cached, ok := s.cache.Get(name); ok {
		sel := cached
		return &sel, true, nil
	}
	sel, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	resolved := browser.SelectorExpression{Name: sel.Name, Expression: sel.Expression}
	s.cache.Add(name, resolved)
	return &resolved, true, nil
}

// Get loads one selector.
func (s *Selectors) Get(ctx context.Context, name string) (*Selector, error) {
	row, err := QueryRow(ctx, s.store.DB,
		fmt.Sprintf("SELECT name, expression, description, updated_at FROM content_selectors WHERE name = %s",
			s.store.Dialect.Placeholder(1)),
		name)
	if err != nil {
		return nil, err
	}
	return selectorFromRow(row)
}

// List returns every selector ordered by name.
func (s *Selectors) List(ctx context.Context) ([]Selector, error) {
	rows, err := QueryRows(ctx, s.store.DB,
		"SELECT name, expression, description, updated_at FROM content_selectors ORDER BY name")
	if err != nil {
		return nil, err
	}
	out := make([]Selector, 0, len(rows))
	for _, row := range rows {
		sel, err := selectorFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *sel)
	}
	return out, nil
}

// Save validates and stores a selector, replacing any previous version.
func (s *Selectors) Save(ctx context.Context, sel Selector) error {
	if !selectorName.MatchString(sel.Name) {
		return fmt.Errorf("%w: bad selector name %q", ErrInvalidSelector, sel.Name)
	}
	if err := ValidateSelectorExpression(sel.Expression); err != nil {
		return err
	}

	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO content_selectors (name, expression, description, updated_at) VALUES (%s, %s, %s, %s)
ON CONFLICT (name) DO UPDATE SET expression = EXCLUDED.expression, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at`,
		pb.Add(sel.Name), pb.Add(strings.TrimSpace(sel.Expression)), pb.Add(sel.Description), pb.Add(Timestamp(time.Now().Unix())))
	if _, err := Exec(ctx, s.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("save selector %s: %w", sel.Name, err)
	}
	s.cache.Remove(sel.Name)
	return nil
}

// Delete removes a selector. It reports ErrNotFound when nothing was deleted.
func (s *Selectors) Delete(ctx context.Context, name string) error {
	n, err := Exec(ctx, s.store.DB,
		fmt.Sprintf("DELETE FROM content_selectors WHERE name = %s", s.store.Dialect.Placeholder(1)), name)
	s.cache.Remove(name)
	if err != nil {
		return fmt.Errorf("delete selector %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateSelectorExpression checks that expr is a single boolean SQL
// expression usable as a WHERE clause over the components table: it must
// parse, may not contain subqueries or bound parameters, and may not carry a
// statement terminator.
func ValidateSelectorExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidSelector)
	}
	if strings.Contains(expr, ";") {
		return fmt.Errorf("%w: statement separators are not allowed", ErrInvalidSelector)
	}

	parser := rqlitesql.NewParser(strings.NewReader("SELECT * FROM components WHERE " + expr))
	stmt, err := parser.ParseStatement()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	sel, ok := stmt.(*rqlitesql.SelectStatement)
	if !ok || sel.WhereExpr == nil {
		return fmt.Errorf("%w: not a WHERE expression", ErrInvalidSelector)
	}

	v := &selectorVisitor{}
	rqlitesql.Walk(v, sel.WhereExpr)
	switch {
	case v.subquery:
		return fmt.Errorf("%w: subqueries are not allowed", ErrInvalidSelector)
	case v.bind:
		return fmt.Errorf("%w: parameters are not allowed", ErrInvalidSelector)
	}
	return nil
}

type selectorVisitor struct {
	subquery bool
	bind     bool
}

func (v *selectorVisitor) Visit(node rqlitesql.Node) (rqlitesql.Visitor, rqlitesql.Node, error) {
	switch n := node.(type) {
	case *rqlitesql.SelectStatement:
		v.subquery = true
	case *rqlitesql.ParenExpr:
		if _, ok := n.X.(rqlitesql.SelectExpr); ok {
			v.subquery = true
		}
	case *rqlitesql.ExprList:
		for _, expr := range n.Exprs {
			if _, ok := expr.(rqlitesql.SelectExpr); ok {
				v.subquery = true
			}
		}
	case *rqlitesql.BindExpr:
		v.bind = true
	}
	return v, node, nil
}

func (v *selectorVisitor) VisitEnd(node rqlitesql.Node) (rqlitesql.Node, error) {
	return node, nil
}

func selectorFromRow(row map[string]any) (*Selector, error) {
	sel := &Selector{
		Name:        asString(row["name"]),
		Expression:  asString(row["expression"]),
		Description: asString(row["description"]),
	}
	if row["updated_at"] != nil {
		ts, err := toUnix(row["updated_at"])
		if err != nil {
			return nil, fmt.Errorf("selector %s: %w", sel.Name, err)
		}
		sel.UpdatedAt = time.Unix(ts, 0).UTC()
	}
	return sel, nil
}
