package wql

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parse parses the caller form of a query: tag names and values are taken as
// raw text, plain tag names carry the ~ prefix.
//
//	{"name": "alice", "~age": {"$gte": "18"}, "$not": {"~role": "admin"}}
//
// An empty document matches every record.
func Parse(data []byte) (Query, error) {
	return parse(data, rawCodec{})
}

// ParseEncoded parses the wire form produced by Encode: tag names and
// encrypted tag values are base64, plain values are raw text.
func ParseEncoded(data []byte) (Query, error) {
	return parse(data, base64Codec{})
}

type codec interface {
	name(key string) (TagName, error)
	value(name TagName, literal string) ([]byte, error)
}

type rawCodec struct{}

func (rawCodec) name(key string) (TagName, error) {
	if strings.HasPrefix(key, string(PlainPrefix)) {
		return Plain([]byte(key[1:])), nil
	}
	return Encrypted([]byte(key)), nil
}

func (rawCodec) value(_ TagName, literal string) ([]byte, error) {
	return []byte(literal), nil
}

type base64Codec struct{}

func (base64Codec) name(key string) (TagName, error) {
	plain := strings.HasPrefix(key, string(PlainPrefix))
	if plain {
		key = key[1:]
	}
	b, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return TagName{}, fmt.Errorf("%w: tag name %q is not base64", ErrInvalidQuery, key)
	}
	return TagName{Name: b, Plain: plain}, nil
}

func (base64Codec) value(name TagName, literal string) ([]byte, error) {
	if name.Plain {
		return []byte(literal), nil
	}
	b, err := base64.StdEncoding.DecodeString(literal)
	if err != nil {
		return nil, fmt.Errorf("%w: value of encrypted tag is not base64", ErrInvalidQuery)
	}
	return b, nil
}

func parse(data []byte, c codec) (Query, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return All(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after query", ErrInvalidQuery)
	}
	q, err := parser{c}.object(v)
	if err != nil {
		return nil, err
	}
	if err := Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

type parser struct {
	c codec
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p parser) object(v any) (Query, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrInvalidQuery, v)
	}
	clauses := make(And, 0, len(obj))
	for _, k := range sortedKeys(obj) {
		var (
			q   Query
			err error
		)
		switch k {
		case "$and":
			var list []Query
			list, err = p.list(k, obj[k])
			q = And(list)
		case "$or":
			var list []Query
			list, err = p.list(k, obj[k])
			q = Or(list)
		case "$not":
			var inner Query
			inner, err = p.object(obj[k])
			q = Not{Query: inner}
		default:
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidQuery, k)
			}
			q, err = p.tag(k, obj[k])
		}
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, q)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return clauses, nil
}

func (p parser) list(op string, v any) ([]Query, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an array", ErrInvalidQuery, op)
	}
	out := make([]Query, 0, len(arr))
	for _, item := range arr {
		q, err := p.object(item)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

var compareOps = map[string]Op{
	"$eq":   Eq,
	"$neq":  Neq,
	"$gt":   Gt,
	"$gte":  Gte,
	"$lt":   Lt,
	"$lte":  Lte,
	"$like": Like,
}

func (p parser) tag(key string, v any) (Query, error) {
	name, err := p.c.name(key)
	if err != nil {
		return nil, err
	}
	if ops, ok := v.(map[string]any); ok {
		if len(ops) == 0 {
			return nil, fmt.Errorf("%w: empty operator object for %q", ErrInvalidQuery, key)
		}
		clauses := make(And, 0, len(ops))
		for _, opKey := range sortedKeys(ops) {
			q, err := p.operator(name, opKey, ops[opKey])
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, q)
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return clauses, nil
	}
	lit, err := scalar(v)
	if err != nil {
		return nil, err
	}
	value, err := p.c.value(name, lit)
	if err != nil {
		return nil, err
	}
	return Compare{Op: Eq, Name: name, Value: value}, nil
}

func (p parser) operator(name TagName, opKey string, v any) (Query, error) {
	if opKey == "$in" {
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: $in expects an array", ErrInvalidQuery)
		}
		values := make([][]byte, 0, len(arr))
		for _, item := range arr {
			lit, err := scalar(item)
			if err != nil {
				return nil, err
			}
			value, err := p.c.value(name, lit)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		return In{Name: name, Values: values}, nil
	}
	op, ok := compareOps[opKey]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidQuery, opKey)
	}
	lit, err := scalar(v)
	if err != nil {
		return nil, err
	}
	value, err := p.c.value(name, lit)
	if err != nil {
		return nil, err
	}
	return Compare{Op: op, Name: name, Value: value}, nil
}

func scalar(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	default:
		return "", fmt.Errorf("%w: expected string or number literal, got %T", ErrInvalidQuery, v)
	}
}
