package wqlsql

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

func mustParse(t *testing.T, s string) wql.Query {
	t.Helper()
	q, err := wql.Parse([]byte(s))
	require.NoError(t, err)
	return q
}

func TestSQLiteSearch(t *testing.T) {
	c := NewSQLite()
	q := mustParse(t, `{"tagName1":"str1","~tagName3":{"$gt":"6"}}`)

	stmt, err := c.Search([]byte("cred"), q, storage.SearchOptions{RetrieveRecords: true, RetrieveValue: true})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT i.id, i.name, i.value, i.key, NULL FROM items AS i WHERE i.type = ? AND "+
			"((i.id IN (SELECT item_id FROM tags_encrypted WHERE name = ? AND value = ?)) AND "+
			"(i.id IN (SELECT item_id FROM tags_plaintext WHERE name = ? AND num > ?))) ORDER BY i.id",
		stmt.SQL)
	assert.Equal(t, []any{
		[]byte("cred"),
		[]byte("tagName1"), []byte("str1"),
		[]byte("tagName3"), float64(6),
	}, stmt.Args)
}

func TestSQLiteColumnsFollowOptions(t *testing.T) {
	c := NewSQLite()
	stmt, err := c.Search([]byte("t"), wql.All(), storage.SearchOptions{RetrieveType: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stmt.SQL, "SELECT i.id, i.name, NULL, NULL, i.type FROM"), stmt.SQL)
	assert.Contains(t, stmt.SQL, "1 = 1")
}

func TestCount(t *testing.T) {
	c := NewSQLite()
	stmt, err := c.Count([]byte("t"), mustParse(t, `{"$or":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM items AS i WHERE i.type = ? AND 1 = 0", stmt.SQL)
	assert.Equal(t, []any{[]byte("t")}, stmt.Args)
}

func TestOperators(t *testing.T) {
	tests := []struct {
		query string
		frag  string
	}{
		{`{"a":{"$neq":"x"}}`, "tags_encrypted WHERE name = ? AND value != ?)"},
		{`{"~a":{"$gte":"b"}}`, "tags_plaintext WHERE name = ? AND value >= ?)"},
		{`{"~a":{"$lt":"-1.5"}}`, "tags_plaintext WHERE name = ? AND num < ?)"},
		{`{"~a":{"$lte":"10"}}`, "num <= ?)"},
		{`{"~a":{"$like":"%x_"}}`, "tags_plaintext WHERE name = ? AND value LIKE ?)"},
		{`{"a":{"$in":["1","2","3"]}}`, "name = ? AND (value = ? OR value = ? OR value = ?))"},
		{`{"a":{"$in":[]}}`, "AND 1 = 0"},
		{`{"$not":{"a":"1"}}`, "AND NOT (i.id IN (SELECT item_id FROM tags_encrypted"},
	}
	c := NewSQLite()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			stmt, err := c.Count([]byte("t"), mustParse(t, tt.query))
			require.NoError(t, err)
			assert.Contains(t, stmt.SQL, tt.frag)
			assert.Equal(t, strings.Count(stmt.SQL, "?"), len(stmt.Args))
		})
	}
}

func TestTenantScoping(t *testing.T) {
	c := NewTenant(42, Dollar)
	q := mustParse(t, `{"$or":[{"a":"1"},{"$not":{"~b":{"$like":"%"}}}],"c":{"$in":["x"]}}`)
	stmt, err := c.Search([]byte("t"), q, storage.DefaultSearchOptions())
	require.NoError(t, err)

	// One scope for the items table and one inside each of the three subqueries.
	assert.Equal(t, 4, strings.Count(stmt.SQL, "wallet_id = "))
	scopes := 0
	for _, a := range stmt.Args {
		if a == int64(42) {
			scopes++
		}
	}
	assert.Equal(t, 4, scopes)
	assert.True(t, strings.HasPrefix(stmt.SQL, "SELECT i.id, i.name, i.value, i.key, NULL FROM items AS i WHERE i.wallet_id = $1 AND i.type = $2 AND "), stmt.SQL)
	assert.Contains(t, stmt.SQL, "$"+strconv.Itoa(len(stmt.Args)))
	assert.NotContains(t, stmt.SQL, "?")
}

func TestTenantTextOrderingUsesBinaryCollation(t *testing.T) {
	stmt, err := NewTenant(1, Dollar).Count([]byte("t"), mustParse(t, `{"~a":{"$gt":"abc"}}`))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `wallet_id = $3 AND name = $4 AND value COLLATE "C" > $5`)

	stmt, err = NewTenant(1, Question).Count([]byte("t"), mustParse(t, `{"~a":{"$gt":"abc"}}`))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `value > ?`)
}

func TestDeterministic(t *testing.T) {
	input := `{"z":"1","a":{"$in":["x","y"]},"$or":[{"~m":{"$gt":"3"}},{"~n":{"$like":"p%"}}]}`
	for _, c := range []Compiler{NewSQLite(), NewTenant(7, Dollar), NewTenant(7, Question)} {
		first, err := c.Search([]byte("t"), mustParse(t, input), storage.DefaultSearchOptions())
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := c.Search([]byte("t"), mustParse(t, input), storage.DefaultSearchOptions())
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestAdversarialLiteralsAreBound(t *testing.T) {
	hostile := []string{
		"value'); DROP TABLE items; --",
		`" OR 1=1 --`,
		"%' OR '1'='1",
		"$1",
		"?",
		"\x00; DELETE FROM tags_plaintext",
	}
	for _, c := range []Compiler{NewSQLite(), NewTenant(3, Dollar), NewTenant(3, Question)} {
		for _, h := range hostile {
			q := wql.Or{
				wql.Compare{Op: wql.Eq, Name: wql.Encrypted([]byte(h)), Value: []byte(h)},
				wql.Compare{Op: wql.Like, Name: wql.Plain([]byte(h)), Value: []byte(h)},
				wql.Compare{Op: wql.Gt, Name: wql.Plain([]byte(h)), Value: []byte(h)},
				wql.In{Name: wql.Plain([]byte(h)), Values: [][]byte{[]byte(h)}},
			}
			stmt, err := c.Search([]byte(h), q, storage.DefaultSearchOptions())
			require.NoError(t, err)
			assert.NotContains(t, stmt.SQL, "DROP")
			assert.NotContains(t, stmt.SQL, "DELETE")
			assert.NotContains(t, stmt.SQL, "'")
			assert.NotContains(t, stmt.SQL, `"`+" OR")
			assert.Contains(t, stmt.Args, any([]byte(h)))
			assert.Contains(t, stmt.Args, any(h))
		}
	}
}

func TestRejectsOrderingOnEncryptedTags(t *testing.T) {
	q := wql.Compare{Op: wql.Gt, Name: wql.Encrypted([]byte("a")), Value: []byte("1")}
	_, err := NewSQLite().Search([]byte("t"), q, storage.DefaultSearchOptions())
	require.ErrorIs(t, err, wql.ErrInvalidQuery)

	_, err = NewTenant(1, Dollar).Count([]byte("t"), wql.Not{Query: wql.Compare{Op: wql.Like, Name: wql.Encrypted([]byte("a"))}})
	require.ErrorIs(t, err, wql.ErrInvalidQuery)
}

func TestTagFetchBatches(t *testing.T) {
	ids := make([]int64, 2*TagBatch+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	stmts := TagFetch(ids, "value")
	require.Len(t, stmts, 3)
	for i, want := range []int{TagBatch, TagBatch, 1} {
		assert.Len(t, stmts[i].Args, 2*want)
		assert.Equal(t, 2*want, strings.Count(stmts[i].SQL, "?"))
	}
	assert.Equal(t, int64(TagBatch+1), stmts[1].Args[0])
	assert.Equal(t, int64(2*TagBatch+1), stmts[2].Args[0])
	assert.Equal(t, int64(2*TagBatch+1), stmts[2].Args[1])
	assert.Equal(t,
		"SELECT item_id, name, value, 0 FROM tags_encrypted WHERE item_id IN (?)"+
			" UNION ALL SELECT item_id, name, value, 1 FROM tags_plaintext WHERE item_id IN (?)",
		stmts[2].SQL)

	cast := TagFetch([]int64{7}, "CAST(value AS BINARY)")
	require.Len(t, cast, 1)
	assert.Contains(t, cast[0].SQL, "SELECT item_id, name, CAST(value AS BINARY), 1 FROM tags_plaintext")

	assert.Empty(t, TagFetch(nil, "value"))
}
