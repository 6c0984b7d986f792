package lineage

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// TableRef is one physical table referenced by a query. QualifiedName joins
// the catalog, schema, and table name parts that are present.
type TableRef struct {
	Name          string `json:"name"`
	Schema        string `json:"schema,omitempty"`
	Catalog       string `json:"catalog,omitempty"`
	Alias         string `json:"alias,omitempty"`
	QualifiedName string `json:"qualified_name"`
}

// ExtractTables lists the base tables a query reads or writes, excluding
// CTE references. Duplicate references to the same table under different
// aliases are kept as separate entries.
func ExtractTables(sql, dialect string) ([]TableRef, error) {
	q, err := sqlparse.Parse(sql, dialect)
	if err != nil {
		return nil, err
	}

	cteNames := make(map[string]struct{})
	for _, cte := range sqlparse.CTEs(q) {
		cteNames[strings.ToLower(cte.Ctename)] = struct{}{}
	}

	stmt := q.Statement()
	if stmt == nil {
		return []TableRef{}, nil
	}

	seen := make(map[string]struct{})
	refs := []TableRef{}
	for _, rv := range sqlparse.Tables(stmt) {
		name := strings.ToLower(rv.Relname)
		if name == "" {
			continue
		}
		// Unqualified references to a declared CTE name are CTE reads.
		if _, isCTE := cteNames[name]; isCTE && rv.Schemaname == "" {
			continue
		}
		ref := TableRef{
			Name:    name,
			Schema:  strings.ToLower(rv.Schemaname),
			Catalog: strings.ToLower(rv.Catalogname),
		}
		if rv.Alias != nil {
			ref.Alias = strings.ToLower(rv.Alias.Aliasname)
		}
		parts := []string{}
		for _, part := range []string{ref.Catalog, ref.Schema, ref.Name} {
			if part != "" {
				parts = append(parts, part)
			}
		}
		ref.QualifiedName = strings.Join(parts, ".")

		key := ref.QualifiedName + "|" + ref.Alias
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].QualifiedName != refs[j].QualifiedName {
			return refs[i].QualifiedName < refs[j].QualifiedName
		}
		return refs[i].Alias < refs[j].Alias
	})
	return refs, nil
}
