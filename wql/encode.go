package wql

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Encode renders q in the wire form accepted by ParseEncoded.
func Encode(q Query) ([]byte, error) {
	v, err := encodeNode(q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func encodeKey(n TagName) string {
	key := base64.StdEncoding.EncodeToString(n.Name)
	if n.Plain {
		return string(PlainPrefix) + key
	}
	return key
}

func encodeValue(n TagName, v []byte) string {
	if n.Plain {
		return string(v)
	}
	return base64.StdEncoding.EncodeToString(v)
}

func encodeList(list []Query) ([]any, error) {
	out := make([]any, 0, len(list))
	for _, c := range list {
		v, err := encodeNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeNode(q Query) (any, error) {
	switch n := q.(type) {
	case And:
		list, err := encodeList(n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"$and": list}, nil
	case Or:
		list, err := encodeList(n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"$or": list}, nil
	case Not:
		inner, err := encodeNode(n.Query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"$not": inner}, nil
	case Compare:
		value := encodeValue(n.Name, n.Value)
		if n.Op == Eq {
			return map[string]any{encodeKey(n.Name): value}, nil
		}
		return map[string]any{encodeKey(n.Name): map[string]any{n.Op.String(): value}}, nil
	case In:
		values := make([]string, 0, len(n.Values))
		for _, v := range n.Values {
			values = append(values, encodeValue(n.Name, v))
		}
		return map[string]any{encodeKey(n.Name): map[string]any{"$in": values}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown node %T", ErrInvalidQuery, q)
	}
}
