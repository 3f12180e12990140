package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// recordJSON is one output line. Type and id are text, value and key are
// base64, tags use the lossless wire encoding.
type recordJSON struct {
	Type  string          `json:"type,omitempty"`
	ID    string          `json:"id"`
	Value *string         `json:"value,omitempty"`
	Key   *string         `json:"key,omitempty"`
	Tags  json.RawMessage `json:"tags,omitempty"`
}

func toJSON(r *storage.Record) (recordJSON, error) {
	out := recordJSON{Type: string(r.Type), ID: string(r.ID)}
	if r.Value != nil {
		value := util.Base64Encode(r.Value.Data)
		key := util.Base64Encode(r.Value.Key)
		out.Value, out.Key = &value, &key
	}
	if r.Tags != nil {
		tags, err := storage.EncodeTags(r.Tags)
		if err != nil {
			return out, err
		}
		out.Tags = tags
	}
	return out, nil
}

func writeRecord(enc *json.Encoder, r *storage.Record) error {
	out, err := toJSON(r)
	if err != nil {
		return err
	}
	return enc.Encode(out)
}

func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

func decodeBase64(flag, s string) ([]byte, error) {
	b, err := util.Base64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("--%s is not base64: %w", flag, storage.ErrInvalidStructure)
	}
	return b, nil
}

func tagName(s string) storage.TagName {
	if name, ok := strings.CutPrefix(s, string(wql.PlainPrefix)); ok {
		return storage.PlainTagName([]byte(name))
	}
	return storage.EncryptedTagName([]byte(s))
}

// parseTags reads tags in the form queries are written in: names and values
// are text and plain names carry the ~ prefix.
func parseTags(s string) ([]storage.Tag, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("--tags: %w: %v", storage.ErrInvalidStructure, err)
	}
	tags := make([]storage.Tag, 0, len(m))
	for k, v := range m {
		tags = append(tags, storage.Tag{Name: tagName(k), Value: []byte(v)})
	}
	return tags, nil
}

// parseNames reads a JSON array of tag names, plain names prefixed with ~.
func parseNames(s string) ([]storage.TagName, error) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("--names: %w: %v", storage.ErrInvalidStructure, err)
	}
	names := make([]storage.TagName, 0, len(list))
	for _, n := range list {
		names = append(names, tagName(n))
	}
	return names, nil
}
