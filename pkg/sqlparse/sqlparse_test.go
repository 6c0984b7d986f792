package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDialect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty defaults to redshift", input: "", want: DialectRedshift},
		{name: "redshift", input: "redshift", want: DialectRedshift},
		{name: "postgres", input: "postgres", want: DialectPostgres},
		{name: "postgresql", input: "postgresql", want: DialectPostgres},
		{name: "pg", input: "pg", want: DialectPostgres},
		{name: "uppercase", input: "POSTGRES", want: DialectPostgres},
		{name: "whitespace", input: "  redshift  ", want: DialectRedshift},
		{name: "mysql rejected", input: "mysql", wantErr: true},
		{name: "snowflake rejected", input: "snowflake", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDialect(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedDialect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("valid select", func(t *testing.T) {
		q, err := Parse(`SELECT id FROM orders`, "")
		require.NoError(t, err)
		require.NotNil(t, q.Select())
		assert.Equal(t, "SELECT", q.Kind())
	})

	t.Run("malformed sql", func(t *testing.T) {
		_, err := Parse(`SELEC id FRO orders`, "")
		require.Error(t, err)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, DialectRedshift, parseErr.Dialect)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Parse(``, "")
		require.Error(t, err)
	})

	t.Run("bad dialect", func(t *testing.T) {
		_, err := Parse(`SELECT 1`, "oracle")
		require.ErrorIs(t, err, ErrUnsupportedDialect)
	})
}

func TestQueryKind(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{name: "select", sql: `SELECT 1`, want: "SELECT"},
		{name: "union", sql: `SELECT 1 UNION SELECT 2`, want: "UNION"},
		{name: "ctas", sql: `CREATE TABLE t AS SELECT 1`, want: "CREATE_TABLE_AS_SELECT"},
		{name: "insert select", sql: `INSERT INTO t SELECT id FROM s`, want: "INSERT_SELECT"},
		{name: "insert values", sql: `INSERT INTO t VALUES (1)`, want: "INSERT"},
		{name: "update", sql: `UPDATE t SET x = 1`, want: "UNSUPPORTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.sql, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Kind())
		})
	}
}

func TestSelect_InsertValues(t *testing.T) {
	// INSERT ... VALUES parses into an inner SelectStmt carrying only
	// ValuesLists; it must not surface as a source SELECT.
	q, err := Parse(`INSERT INTO t VALUES (1)`, "")
	require.NoError(t, err)
	assert.Nil(t, q.Select())

	q, err = Parse(`INSERT INTO t SELECT id FROM s`, "")
	require.NoError(t, err)
	require.NotNil(t, q.Select())
	assert.NotEmpty(t, q.Select().TargetList)
}

func TestTargetTable(t *testing.T) {
	q, err := Parse(`CREATE TABLE report AS SELECT id FROM orders`, "")
	require.NoError(t, err)
	assert.Equal(t, "report", q.TargetTable())
	require.NotNil(t, q.Select())

	q, err = Parse(`INSERT INTO archive SELECT * FROM orders`, "")
	require.NoError(t, err)
	assert.Equal(t, "archive", q.TargetTable())
}

func TestCTEs(t *testing.T) {
	q, err := Parse(`WITH a AS (SELECT 1), b AS (SELECT 2) SELECT * FROM a, b`, "")
	require.NoError(t, err)

	ctes := CTEs(q)
	require.Len(t, ctes, 2)
	assert.Equal(t, "a", ctes[0].Ctename)
	assert.Equal(t, "b", ctes[1].Ctename)
}

func TestColumnRefParts(t *testing.T) {
	q, err := Parse(`SELECT o.id, name, t.* FROM orders o`, "")
	require.NoError(t, err)

	refs := ColumnRefs(q.Statement())
	require.Len(t, refs, 3)

	table, column, star := ColumnRefParts(refs[0])
	assert.Equal(t, "o", table)
	assert.Equal(t, "id", column)
	assert.False(t, star)

	table, column, star = ColumnRefParts(refs[1])
	assert.Empty(t, table)
	assert.Equal(t, "name", column)
	assert.False(t, star)

	table, column, star = ColumnRefParts(refs[2])
	assert.Equal(t, "t", table)
	assert.Equal(t, "*", column)
	assert.True(t, star)
}

func TestSchema(t *testing.T) {
	schema, err := ParseSchema([]byte(`{"orders": {"id": "INT", "amount": "NUMERIC"}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "id"}, schema.Columns("orders"))
	assert.Nil(t, schema.Columns("missing"))

	typ, ok := schema.Type("orders", "id")
	require.True(t, ok)
	assert.Equal(t, "INT", typ)

	typ, ok = schema.Type("ORDERS", "AMOUNT")
	require.True(t, ok)
	assert.Equal(t, "NUMERIC", typ)

	// Empty table matches any table declaring the column.
	_, ok = schema.Type("", "amount")
	assert.True(t, ok)

	assert.True(t, schema.HasColumn("orders", "id"))
	assert.False(t, schema.HasColumn("orders", "nope"))

	_, err = ParseSchema([]byte(`not json`))
	require.Error(t, err)
}

func TestQualify(t *testing.T) {
	t.Run("single relation", func(t *testing.T) {
		q, err := Parse(`SELECT id, amount FROM orders WHERE amount > 10`, "")
		require.NoError(t, err)

		qualified, err := Qualify(q, nil)
		require.NoError(t, err)

		refs := ColumnRefs(qualified.Statement())
		for _, ref := range refs {
			table, _, _ := ColumnRefParts(ref)
			assert.Equal(t, "orders", table)
		}
		// The original tree is untouched.
		table, _, _ := ColumnRefParts(ColumnRefs(q.Statement())[0])
		assert.Empty(t, table)
	})

	t.Run("schema resolves across join", func(t *testing.T) {
		q, err := Parse(`SELECT name, amount FROM orders o JOIN users u ON o.user_id = u.id`, "")
		require.NoError(t, err)

		schema := Schema{
			"orders": {"id": "INT", "amount": "NUMERIC", "user_id": "INT"},
			"users":  {"id": "INT", "name": "TEXT"},
		}
		qualified, err := Qualify(q, schema)
		require.NoError(t, err)

		var owners []string
		for _, ref := range ColumnRefs(qualified.Select().TargetList[0]) {
			table, _, _ := ColumnRefParts(ref)
			owners = append(owners, table)
		}
		assert.Equal(t, []string{"u"}, owners)
	})

	t.Run("select alias untouched", func(t *testing.T) {
		q, err := Parse(`SELECT amount * 2 AS doubled, doubled + 1 AS more FROM orders`, "")
		require.NoError(t, err)

		qualified, err := Qualify(q, nil)
		require.NoError(t, err)

		sel := qualified.Select()
		refs := ColumnRefs(sel.TargetList[1])
		require.Len(t, refs, 1)
		table, column, _ := ColumnRefParts(refs[0])
		assert.Empty(t, table)
		assert.Equal(t, "doubled", column)
	})

	t.Run("ambiguous stays unqualified", func(t *testing.T) {
		q, err := Parse(`SELECT id FROM a JOIN b ON true`, "")
		require.NoError(t, err)

		schema := Schema{"a": {"id": "INT"}, "b": {"id": "INT"}}
		qualified, err := Qualify(q, schema)
		require.NoError(t, err)

		table, _, _ := ColumnRefParts(ColumnRefs(qualified.Select().TargetList[0])[0])
		assert.Empty(t, table)
	})
}

func TestRenderTarget(t *testing.T) {
	q, err := Parse(`SELECT sum(amount) AS total FROM orders`, "")
	require.NoError(t, err)

	rt := q.Select().TargetList[0].GetResTarget()
	require.NotNil(t, rt)

	text, err := RenderTarget(rt, q.Version())
	require.NoError(t, err)
	assert.Contains(t, text, "sum(amount)")
	assert.Contains(t, text, "AS total")
}
