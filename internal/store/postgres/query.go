package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// listQuery appends the time window, ordering and pagination of opts to a
// SELECT that has no WHERE clause yet.
func listQuery(base, timeCol, order string, opts domain.ListOpts) (string, []any) {
	var (
		sb    strings.Builder
		conds []string
		args  []any
	)
	sb.WriteString(base)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("%s >= $%d", timeCol, len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("%s <= $%d", timeCol, len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)
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
