// Package wqlsql compiles WQL queries into parameterized SQL for the relational
// backends.
//
// Two schema shapes are supported. The single-tenant shape (one database per
// storage instance) is compiled by NewSQLite. The multi-tenant shape, where many
// storage instances share tables and every row carries a wallet_id, is compiled
// by NewTenant. Tag names and values are always bound as parameters; only
// fixed identifiers and operators appear in the SQL text.
package wqlsql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// Statement is SQL text together with its bound arguments, in order.
type Statement struct {
	SQL  string
	Args []any
}

// Compiler turns a query over one item type into SQL.
type Compiler interface {
	// Search compiles the row-fetch statement. Its columns are the item row id,
	// name, value, key and type; columns not selected by opts are NULL.
	Search(itemType []byte, q wql.Query, opts storage.SearchOptions) (Statement, error)

	// Count compiles a statement returning the number of matching items.
	Count(itemType []byte, q wql.Query) (Statement, error)
}

// Placeholder is a bind parameter style.
type Placeholder int

const (
	// Question binds with ?, as SQLite and MySQL do.
	Question Placeholder = iota
	// Dollar binds with $1, $2, ... as PostgreSQL does.
	Dollar
)

func (p Placeholder) render(n int) string {
	if p == Dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

type dialect struct {
	placeholder Placeholder
	// scoped dialects filter every table by wallet_id.
	scoped   bool
	walletID int64
	// textCompare wraps a plain value column for byte-wise ordering.
	textCompare func(col string) string
}

type compiler struct {
	d dialect
}

// NewSQLite returns the compiler for the single-tenant embedded schema.
func NewSQLite() Compiler {
	return &compiler{d: dialect{
		placeholder: Question,
		textCompare: func(col string) string { return col },
	}}
}

// NewTenant returns the compiler for the multi-tenant schema, scoping every
// statement to walletID.
func NewTenant(walletID int64, p Placeholder) Compiler {
	d := dialect{placeholder: p, scoped: true, walletID: walletID}
	if p == Dollar {
		d.textCompare = func(col string) string { return col + ` COLLATE "C"` }
	} else {
		d.textCompare = func(col string) string { return col }
	}
	return &compiler{d: d}
}

type builder struct {
	d    dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) {
	b.sb.WriteString(s)
}

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.d.placeholder.render(len(b.args)))
}

func (b *builder) statement() Statement {
	return Statement{SQL: b.sb.String(), Args: b.args}
}

func (c *compiler) Search(itemType []byte, q wql.Query, opts storage.SearchOptions) (Statement, error) {
	b := &builder{d: c.d}
	b.write("SELECT i.id, i.name, ")
	if opts.RetrieveValue {
		b.write("i.value, i.key, ")
	} else {
		b.write("NULL, NULL, ")
	}
	if opts.RetrieveType {
		b.write("i.type")
	} else {
		b.write("NULL")
	}
	b.write(" FROM items AS i")
	if err := c.where(b, itemType, q); err != nil {
		return Statement{}, err
	}
	b.write(" ORDER BY i.id")
	return b.statement(), nil
}

func (c *compiler) Count(itemType []byte, q wql.Query) (Statement, error) {
	b := &builder{d: c.d}
	b.write("SELECT COUNT(*) FROM items AS i")
	if err := c.where(b, itemType, q); err != nil {
		return Statement{}, err
	}
	return b.statement(), nil
}

func (c *compiler) where(b *builder, itemType []byte, q wql.Query) error {
	if err := wql.Validate(q); err != nil {
		return err
	}
	b.write(" WHERE ")
	if c.d.scoped {
		b.write("i.wallet_id = ")
		b.bind(c.d.walletID)
		b.write(" AND ")
	}
	b.write("i.type = ")
	b.bind(itemType)
	if q == nil {
		return nil
	}
	b.write(" AND ")
	return expr(b, q)
}

func expr(b *builder, q wql.Query) error {
	switch n := q.(type) {
	case wql.And:
		return junction(b, []wql.Query(n), " AND ", "1 = 1")
	case wql.Or:
		return junction(b, []wql.Query(n), " OR ", "1 = 0")
	case wql.Not:
		b.write("NOT (")
		if err := expr(b, n.Query); err != nil {
			return err
		}
		b.write(")")
		return nil
	case wql.Compare:
		return compare(b, n)
	case wql.In:
		return in(b, n)
	default:
		return fmt.Errorf("%w: unknown node %T", wql.ErrInvalidQuery, q)
	}
}

func junction(b *builder, clauses []wql.Query, sep, empty string) error {
	if len(clauses) == 0 {
		b.write(empty)
		return nil
	}
	b.write("(")
	for i, c := range clauses {
		if i > 0 {
			b.write(sep)
		}
		b.write("(")
		if err := expr(b, c); err != nil {
			return err
		}
		b.write(")")
	}
	b.write(")")
	return nil
}

func tagTable(n wql.TagName) string {
	if n.Plain {
		return "tags_plaintext"
	}
	return "tags_encrypted"
}

// tagValue converts a literal into the bound type of the value column.
func tagValue(n wql.TagName, v []byte) any {
	if n.Plain {
		return string(v)
	}
	return v
}

// subquery opens "i.id IN (SELECT item_id FROM <table> WHERE [wallet_id = ? AND] name = ? AND ".
func subquery(b *builder, n wql.TagName) {
	b.write("i.id IN (SELECT item_id FROM ")
	b.write(tagTable(n))
	b.write(" WHERE ")
	if b.d.scoped {
		b.write("wallet_id = ")
		b.bind(b.d.walletID)
		b.write(" AND ")
	}
	b.write("name = ")
	b.bind(n.Name)
	b.write(" AND ")
}

var sqlOps = map[wql.Op]string{
	wql.Eq:   " = ",
	wql.Neq:  " != ",
	wql.Gt:   " > ",
	wql.Gte:  " >= ",
	wql.Lt:   " < ",
	wql.Lte:  " <= ",
	wql.Like: " LIKE ",
}

func compare(b *builder, n wql.Compare) error {
	op, ok := sqlOps[n.Op]
	if !ok {
		return fmt.Errorf("%w: unknown operator %s", wql.ErrInvalidQuery, n.Op)
	}
	subquery(b, n.Name)
	switch {
	case n.Op == wql.Eq || n.Op == wql.Neq:
		b.write("value")
		b.write(op)
		b.bind(tagValue(n.Name, n.Value))
	case n.Op == wql.Like:
		b.write("value LIKE ")
		b.bind(string(n.Value))
	default:
		if f, numeric := wql.Numeric(string(n.Value)); numeric {
			b.write("num")
			b.write(op)
			b.bind(f)
		} else {
			b.write(b.d.textCompare("value"))
			b.write(op)
			b.bind(string(n.Value))
		}
	}
	b.write(")")
	return nil
}

func in(b *builder, n wql.In) error {
	if len(n.Values) == 0 {
		b.write("1 = 0")
		return nil
	}
	subquery(b, n.Name)
	b.write("(")
	for i, v := range n.Values {
		if i > 0 {
			b.write(" OR ")
		}
		b.write("value = ")
		b.bind(tagValue(n.Name, v))
	}
	b.write("))")
	return nil
}

// TagBatch bounds the item ids bound into one tag fetch statement. Each id is
// bound twice, keeping a statement well under the MySQL and SQLite parameter
// limits.
const TagBatch = 500

// TagFetch compiles the statements loading the tags of rowIDs, at most TagBatch
// ids per statement. Columns are item_id, name, value and a flag set for
// plaintext tags. plainValue is the expression reading a plaintext value.
func TagFetch(rowIDs []int64, plainValue string) []Statement {
	var out []Statement
	for len(rowIDs) > 0 {
		n := min(len(rowIDs), TagBatch)
		args := make([]any, 0, 2*n)
		for _, id := range rowIDs[:n] {
			args = append(args, id)
		}
		args = append(args, args...)
		rowIDs = rowIDs[n:]

		in := "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
		out = append(out, Statement{
			SQL: "SELECT item_id, name, value, 0 FROM tags_encrypted WHERE item_id IN " + in +
				" UNION ALL SELECT item_id, name, " + plainValue + ", 1 FROM tags_plaintext WHERE item_id IN " + in,
			Args: args,
		})
	}
	return out
}
