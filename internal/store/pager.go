package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"component-deployer/internal/browser"
)

var namedParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Pager lists stored components in component_key order. The cursor it
// hands out is the key of the first component not yet returned, so a page
// fetch resumes correctly even after earlier rows are deleted. A cursor
// whose row disappeared resumes at the next surviving key.
type Pager struct {
	store *Store
}

// NewPager creates a Pager over s.
func NewPager(s *Store) *Pager {
	return &Pager{store: s}
}

// FetchPage implements browser.Pager.
func (p *Pager) FetchPage(ctx context.Context, q browser.Query, pageSize int, cursor string) (browser.Page, error) {
	if pageSize < 1 {
		return browser.Page{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	pb := p.store.Dialect.NewParamBuilder()
	conds := []string{"repository = " + pb.Add(q.Repository)}

	if q.Where != "" {
		where := q.Where
		if q.Params != nil {
			var err error
			where, err = bindNamed(q.Where, q.Params, pb)
			if err != nil {
				return browser.Page{}, err
			}
		}
		conds = append(conds, "("+where+")")
	}
	if cursor != "" {
		conds = append(conds, "component_key >= "+pb.Add(cursor))
	}

	sqlStr := fmt.Sprintf("SELECT %s FROM components WHERE %s ORDER BY component_key LIMIT %d",
		componentColumns, strings.Join(conds, " AND "), pageSize+1)

	rows, err := QueryRows(ctx, p.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return browser.Page{}, err
	}

	var page browser.Page
	for i, row := range rows {
		if i == pageSize {
			page.Next = asString(row["component_key"])
			break
		}
		c, err := componentFromRow(row)
		if err != nil {
			return browser.Page{}, err
		}
		page.Items = append(page.Items, c)
	}

	if err := p.store.loadDetails(ctx, page.Items); err != nil {
		return browser.Page{}, err
	}
	return page, nil
}

// bindNamed rewrites ":name" placeholders into dialect placeholders. A name
// used several times is bound once.
func bindNamed(fragment string, params map[string]any, pb ParamBuilder) (string, error) {
	bound := map[string]string{}
	var missing string
	out := namedParam.ReplaceAllStringFunc(fragment, func(m string) string {
		name := m[1:]
		if ph, ok := bound[name]; ok {
			return ph
		}
		v, ok := params[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		ph := pb.Add(v)
		bound[name] = ph
		return ph
	})
	if missing != "" {
		return "", fmt.Errorf("parameter %q is not bound", missing)
	}
	return out, nil
}
