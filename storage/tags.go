package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/wql"
)

// Tag wire encoding: a flat JSON object. Names are base64; plain tag names carry
// the ~ prefix in front of their base64. Encrypted values are base64, plain
// values are the raw text.
//
//	{"ZW1haWw=": "q83vEjRW", "~YWdl": "42"}

func encodeTagName(n TagName) string {
	if n.Plain {
		return string(wql.PlainPrefix) + util.Base64Encode(n.Name)
	}
	return util.Base64Encode(n.Name)
}

func decodeTagName(key string) (TagName, error) {
	plain := strings.HasPrefix(key, string(wql.PlainPrefix))
	if plain {
		key = key[1:]
	}
	name, err := util.Base64Decode(key)
	if err != nil {
		return TagName{}, fmt.Errorf("tag name %q: %w", key, ErrInvalidStructure)
	}
	return TagName{Name: name, Plain: plain}, nil
}

// EncodeTags renders tags in the wire encoding.
func EncodeTags(tags []Tag) ([]byte, error) {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Plain() {
			m[encodeTagName(t.Name)] = t.Text()
		} else {
			m[encodeTagName(t.Name)] = util.Base64Encode(t.Value)
		}
	}
	return json.Marshal(m)
}

// DecodeTags parses the wire encoding. The result is ordered by encoded name so
// equal inputs decode identically. An empty input decodes to no tags.
func DecodeTags(data []byte) ([]Tag, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Tag{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding tags: %v: %w", err, ErrInvalidStructure)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]Tag, 0, len(m))
	for _, k := range keys {
		name, err := decodeTagName(k)
		if err != nil {
			return nil, err
		}
		value := []byte(m[k])
		if !name.Plain {
			value, err = util.Base64Decode(m[k])
			if err != nil {
				return nil, fmt.Errorf("value of tag %q: %w", k, ErrInvalidStructure)
			}
		}
		tags = append(tags, Tag{Name: name, Value: value})
	}
	return tags, nil
}

// EncodeTagNames renders tag names as a JSON array of wire-encoded names.
func EncodeTagNames(names []TagName) ([]byte, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, encodeTagName(n))
	}
	return json.Marshal(out)
}

// DecodeTagNames parses a JSON array of wire-encoded names.
func DecodeTagNames(data []byte) ([]TagName, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []TagName{}, nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decoding tag names: %v: %w", err, ErrInvalidStructure)
	}
	names := make([]TagName, 0, len(keys))
	for _, k := range keys {
		n, err := decodeTagName(k)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}
