package storage

import (
	"bytes"
	"fmt"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/wql"
)

// EncryptedValue is an item's encrypted payload together with its encrypted key.
// The engine never interprets either field.
type EncryptedValue struct {
	Data []byte `json:"data"`
	Key  []byte `json:"key"`
}

// Equal reports field-wise equality.
func (v EncryptedValue) Equal(o EncryptedValue) bool {
	return bytes.Equal(v.Data, o.Data) && bytes.Equal(v.Key, o.Key)
}

// Clone returns a deep copy.
func (v EncryptedValue) Clone() EncryptedValue {
	return EncryptedValue{Data: util.CopyBytes(v.Data), Key: util.CopyBytes(v.Key)}
}

// TagName identifies a tag of either kind without its value.
type TagName = wql.TagName

// EncryptedTagName returns the name of an encrypted tag.
func EncryptedTagName(name []byte) TagName {
	return wql.Encrypted(name)
}

// PlainTagName returns the name of a plaintext tag.
func PlainTagName(name []byte) TagName {
	return wql.Plain(name)
}

// Tag is a searchable annotation on a record. Encrypted tags hold opaque
// ciphertext and only support equality; plain tags hold text and also support
// ordering and pattern comparisons.
type Tag struct {
	Name  TagName
	Value []byte
}

// EncryptedTag returns an encrypted tag.
func EncryptedTag(name, value []byte) Tag {
	return Tag{Name: wql.Encrypted(name), Value: value}
}

// PlainTag returns a plaintext tag.
func PlainTag(name []byte, value string) Tag {
	return Tag{Name: wql.Plain(name), Value: []byte(value)}
}

// Plain reports whether t is a plaintext tag.
func (t Tag) Plain() bool {
	return t.Name.Plain
}

// Text returns the value of a plaintext tag.
func (t Tag) Text() string {
	return string(t.Value)
}

// Equal reports whether both tags have the same kind, name and value.
func (t Tag) Equal(o Tag) bool {
	return t.Name.Equal(o.Name) && bytes.Equal(t.Value, o.Value)
}

// Clone returns a deep copy.
func (t Tag) Clone() Tag {
	return Tag{
		Name:  TagName{Name: util.CopyBytes(t.Name.Name), Plain: t.Name.Plain},
		Value: util.CopyBytes(t.Value),
	}
}

// CloneTags deep-copies a tag slice, preserving nil.
func CloneTags(tags []Tag) []Tag {
	if tags == nil {
		return nil
	}
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = t.Clone()
	}
	return out
}

// TagIndex returns tags as a wql.Tags for in-memory query evaluation.
func TagIndex(tags []Tag) wql.TagMap {
	m := make(wql.TagMap, len(tags))
	for _, t := range tags {
		m[t.Name.Key()] = t.Value
	}
	return m
}

// ValidateTags rejects a tag set naming the same tag twice.
func ValidateTags(tags []Tag) error {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		k := t.Name.Key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate tag %q: %w", k, ErrInvalidStructure)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// ValidateTagNames rejects a name set naming the same tag twice.
func ValidateTagNames(names []TagName) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		k := n.Key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate tag name %q: %w", k, ErrInvalidStructure)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Record is an item as returned by Get, Search and GetAll. Type, Value and Tags
// are only populated when the caller's options asked for them; nil means "not
// requested", not "empty". Requested but absent tags yield a non-nil empty slice.
type Record struct {
	ID    []byte
	Type  []byte
	Value *EncryptedValue
	Tags  []Tag
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:   util.CopyBytes(r.ID),
		Tags: CloneTags(r.Tags),
	}
	if r.Type != nil {
		out.Type = util.CopyBytes(r.Type)
	}
	if r.Value != nil {
		v := r.Value.Clone()
		out.Value = &v
	}
	return out
}

// Shape returns a deep copy of r with only the fields selected by opts kept.
// Selected tags are never nil.
func (r *Record) Shape(opts RecordOptions) *Record {
	out := &Record{ID: util.CopyBytes(r.ID)}
	if opts.RetrieveType && r.Type != nil {
		out.Type = util.CopyBytes(r.Type)
	}
	if opts.RetrieveValue && r.Value != nil {
		v := r.Value.Clone()
		out.Value = &v
	}
	if opts.RetrieveTags {
		out.Tags = CloneTags(r.Tags)
		if out.Tags == nil {
			out.Tags = []Tag{}
		}
	}
	return out
}
