package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// listQuery builds a filtered, ordered, paginated SELECT with positional
// arguments.
type listQuery struct {
	base    string
	where   []string
	args    []any
	orderBy string
}

func newListQuery(base, orderBy string) *listQuery {
	return &listQuery{base: base, orderBy: orderBy}
}

// eq adds "col = $n" when v is non-empty.
func (q *listQuery) eq(col, v string) *listQuery {
	if v == "" {
		return q
	}
	q.args = append(q.args, v)
	q.where = append(q.where, fmt.Sprintf("%s = $%d", col, len(q.args)))
	return q
}

// window applies the Since/Until bounds of opts to a timestamp column.
func (q *listQuery) window(col string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.args = append(q.args, *opts.Since)
		q.where = append(q.where, fmt.Sprintf("%s >= $%d", col, len(q.args)))
	}
	if opts.Until != nil {
		q.args = append(q.args, *opts.Until)
		q.where = append(q.where, fmt.Sprintf("%s <= $%d", col, len(q.args)))
	}
	return q
}

// build returns the SQL and its arguments, applying opts pagination.
func (q *listQuery) build(opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(q.base)
	if len(q.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.where, " AND "))
	}
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	args := append([]any(nil), q.args...)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}
