// Package wql implements the wallet query language: a small boolean expression
// language over record tags.
//
// A query is a tree of comparisons against tag values joined by And, Or and Not.
// Tag names are either encrypted (opaque bytes, equality only) or plain
// (comparable text). Queries are produced by Parse from the caller JSON form,
// by ParseEncoded from the base64 wire form, or built directly.
package wql

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrInvalidQuery is returned for malformed query JSON or for operators that
// cannot be applied to the named tag kind.
var ErrInvalidQuery = errors.New("wql: invalid query")

// PlainPrefix marks plain tag names in flattened string-keyed forms.
const PlainPrefix = '~'

// TagName identifies a tag without its value.
type TagName struct {
	Name  []byte
	Plain bool
}

// Encrypted returns the name of an encrypted tag.
func Encrypted(name []byte) TagName {
	return TagName{Name: name}
}

// Plain returns the name of a plaintext tag.
func Plain(name []byte) TagName {
	return TagName{Name: name, Plain: true}
}

// Equal reports whether both names refer to the same tag.
func (n TagName) Equal(o TagName) bool {
	return n.Plain == o.Plain && bytes.Equal(n.Name, o.Name)
}

// Key returns a string usable as a map key for the name.
func (n TagName) Key() string {
	if n.Plain {
		return string(PlainPrefix) + string(n.Name)
	}
	return string(n.Name)
}

func (n TagName) String() string {
	return n.Key()
}

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Neq
	Gt
	Gte
	Lt
	Lte
	Like
)

var opNames = map[Op]string{
	Eq:   "$eq",
	Neq:  "$neq",
	Gt:   "$gt",
	Gte:  "$gte",
	Lt:   "$lt",
	Lte:  "$lte",
	Like: "$like",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Ordering reports whether the operator compares by order or pattern, which is
// only defined for plain tags.
func (o Op) Ordering() bool {
	return o != Eq && o != Neq
}

// Query is a node of the query tree.
type Query interface {
	isQuery()
}

// And matches when every clause matches. An empty And matches everything.
type And []Query

// Or matches when any clause matches. An empty Or matches nothing.
type Or []Query

// Not inverts its clause.
type Not struct {
	Query Query
}

// Compare matches records whose tag Name compares to Value under Op.
type Compare struct {
	Op    Op
	Name  TagName
	Value []byte
}

// In matches records whose tag Name equals any of Values.
type In struct {
	Name   TagName
	Values [][]byte
}

func (And) isQuery()     {}
func (Or) isQuery()      {}
func (Not) isQuery()     {}
func (Compare) isQuery() {}
func (In) isQuery()      {}

// All returns the query matching every record.
func All() Query {
	return And{}
}

// Validate walks q and rejects ordering or pattern operators applied to
// encrypted tag names.
func Validate(q Query) error {
	switch n := q.(type) {
	case nil:
		return nil
	case And:
		for _, c := range n {
			if err := Validate(c); err != nil {
				return err
			}
		}
	case Or:
		for _, c := range n {
			if err := Validate(c); err != nil {
				return err
			}
		}
	case Not:
		if n.Query == nil {
			return fmt.Errorf("%w: empty $not", ErrInvalidQuery)
		}
		return Validate(n.Query)
	case Compare:
		if n.Op.Ordering() && !n.Name.Plain {
			return fmt.Errorf("%w: %s not supported for encrypted tag %q", ErrInvalidQuery, n.Op, n.Name.Name)
		}
	case In:
	default:
		return fmt.Errorf("%w: unknown node %T", ErrInvalidQuery, q)
	}
	return nil
}
