package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const defaultListLimit = 100

// listQuery is a paged, newest-first SELECT over one table.
type listQuery struct {
	selectFrom string // "SELECT ... FROM table"
	filterCol  string // compared with ListOpts.Strategy
	timeCol    string // compared with ListOpts.Since and used for ordering
}

func (q listQuery) build(opts domain.ListOpts) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sb.WriteString(q.selectFrom)
	sb.WriteString(" WHERE TRUE")
	if opts.Strategy != "" {
		sb.WriteString(" AND " + q.filterCol + " = " + arg(opts.Strategy))
	}
	if opts.Since != nil {
		sb.WriteString(" AND " + q.timeCol + " >= " + arg(*opts.Since))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	sb.WriteString(" ORDER BY " + q.timeCol + " DESC LIMIT " + arg(limit))
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return sb.String(), args
}
