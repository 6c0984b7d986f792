package lineage

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// extractor collects the base column references one relation's expressions
// depend on. Unqualified references that name another SELECT-list alias are
// resolved through the alias map instead of being reported as terminals;
// qualified references are additionally expanded through the table-alias
// map so callers can match either the local alias or the physical table.
type extractor struct {
	aliases AliasMap
	// tableAliases maps alias-or-name (lower) to the base relation name
	// (lower): physical tables to themselves, subquery aliases to their
	// generated relation names.
	tableAliases map[string]string
}

// Sources returns the table.column references of expr, deduplicated and in
// first-seen order. Unresolvable unqualified references use the table name
// "unknown". Each call starts a fresh visited set, so circular alias
// definitions terminate with a partial result.
func (e *extractor) Sources(expr *pg_query.Node) []string {
	var out []string
	seen := make(map[string]struct{})
	e.collect(expr, make(map[string]struct{}), seen, &out)
	return out
}

func (e *extractor) collect(expr *pg_query.Node, visited, seen map[string]struct{}, out *[]string) {
	add := func(ref string) {
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			*out = append(*out, ref)
		}
	}

	for _, ref := range sqlparse.ColumnRefs(expr) {
		table, column, star := sqlparse.ColumnRefParts(ref)
		if star || column == "" {
			continue
		}
		table = strings.ToLower(table)
		name := strings.ToLower(column)

		if table == "" {
			if def, ok := e.aliases[name]; ok {
				if _, expanded := visited[name]; !expanded {
					visited[name] = struct{}{}
					e.collect(def, visited, seen, out)
					continue
				}
			}
			table = "unknown"
		}

		add(table + "." + name)
		if base, ok := e.tableAliases[table]; ok && base != "" && base != table {
			add(base + "." + name)
		}
	}
}
