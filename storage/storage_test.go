package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagWireEncoding(t *testing.T) {
	tags := []Tag{
		EncryptedTag([]byte{0x00, 0x7e, 0xff}, []byte{0xde, 0xad}),
		PlainTag([]byte("~odd"), "value'); DROP TABLE items; --"),
		PlainTag([]byte("age"), "42"),
	}
	data, err := EncodeTags(tags)
	require.NoError(t, err)

	got, err := DecodeTags(data)
	require.NoError(t, err)
	assert.ElementsMatch(t, tags, got)

	t.Run("plain names carry the marker", func(t *testing.T) {
		data, err := EncodeTags([]Tag{PlainTag([]byte("age"), "42")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"~YWdl":"42"}`, string(data))
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := DecodeTags(nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, in := range []string{`[]`, `{"a":`, `{"!!":"AA=="}`, `{"AA==":"!!"}`} {
			_, err := DecodeTags([]byte(in))
			assert.ErrorIs(t, err, ErrInvalidStructure, in)
		}
	})
}

func TestTagNameWireEncoding(t *testing.T) {
	names := []TagName{EncryptedTagName([]byte{0x01}), PlainTagName([]byte("age"))}
	data, err := EncodeTagNames(names)
	require.NoError(t, err)
	got, err := DecodeTagNames(data)
	require.NoError(t, err)
	assert.Equal(t, names, got)

	_, err = DecodeTagNames([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestValidateTags(t *testing.T) {
	require.NoError(t, ValidateTags([]Tag{
		EncryptedTag([]byte("a"), []byte("1")),
		PlainTag([]byte("a"), "1"),
	}))
	err := ValidateTags([]Tag{
		PlainTag([]byte("a"), "1"),
		PlainTag([]byte("a"), "2"),
	})
	assert.ErrorIs(t, err, ErrInvalidStructure)

	err = ValidateTagNames([]TagName{EncryptedTagName([]byte("x")), EncryptedTagName([]byte("x"))})
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestOptions(t *testing.T) {
	t.Run("record defaults", func(t *testing.T) {
		opts, err := ParseRecordOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, RecordOptions{RetrieveValue: true}, opts)
	})

	t.Run("search defaults", func(t *testing.T) {
		opts, err := ParseSearchOptions([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, SearchOptions{RetrieveRecords: true, RetrieveValue: true, RetrieveTags: true}, opts)
		assert.Equal(t, DefaultSearchOptions(), opts)
	})

	t.Run("overrides", func(t *testing.T) {
		opts, err := ParseSearchOptions([]byte(`{"retrieveRecords":false,"retrieveTotalCount":true,"retrieveTags":false,"unknown":1}`))
		require.NoError(t, err)
		assert.Equal(t, SearchOptions{RetrieveTotalCount: true, RetrieveValue: true}, opts)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseRecordOptions([]byte(`{"retrieveType":"yes"}`))
		assert.ErrorIs(t, err, ErrInvalidStructure)
	})

	t.Run("marshal emits every key", func(t *testing.T) {
		data, err := RecordOptions{}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"retrieveType":false,"retrieveValue":false,"retrieveTags":false}`, string(data))

		opts, err := ParseRecordOptions(data)
		require.NoError(t, err)
		assert.Equal(t, RecordOptions{}, opts)
	})
}

func TestSliceIterator(t *testing.T) {
	ctx := context.Background()
	records := []*Record{{ID: []byte("a")}, {ID: []byte("b")}}
	it := NewSliceIterator(records, nil)

	_, ok := it.TotalCount()
	assert.False(t, ok)

	got, err := Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[0].ID)

	r, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, r, "iterator must not restart")

	count := CountOnly(7)
	n, ok := count.TotalCount()
	assert.True(t, ok)
	assert.Equal(t, 7, n)
	r, err = count.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRecordShape(t *testing.T) {
	r := &Record{
		ID:    []byte("id"),
		Type:  []byte("t"),
		Value: &EncryptedValue{Data: []byte("d"), Key: []byte("k")},
	}
	s := r.Shape(RecordOptions{RetrieveValue: true, RetrieveTags: true})
	assert.Nil(t, s.Type)
	assert.NotNil(t, s.Value)
	assert.NotNil(t, s.Tags)

	s.Value.Data[0] = 'X'
	s.ID[0] = 'X'
	assert.Equal(t, []byte("d"), r.Value.Data, "Shape must deep-copy")
	assert.Equal(t, []byte("id"), r.ID)

	s = r.Shape(RecordOptions{RetrieveType: true})
	assert.Equal(t, []byte("t"), s.Type)
	assert.Nil(t, s.Value)
	assert.Nil(t, s.Tags)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var lc Lifecycle = nopLifecycle{}
	require.NoError(t, r.Register("b", lc))
	require.NoError(t, r.Register("a", lc))
	assert.ErrorIs(t, r.Register("a", lc), ErrTypeAlreadyRegistered)
	assert.ErrorIs(t, r.Register("", lc), ErrInvalidStructure)

	got, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, lc, got)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestTranslate(t *testing.T) {
	native := errors.New("disk on fire")
	err := Translate("add", native)
	assert.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, native)
	assert.Contains(t, err.Error(), "disk on fire")

	typed := ItemNotFound([]byte("t"), []byte("i"))
	assert.Equal(t, typed, Translate("get", typed))
	assert.Nil(t, Translate("noop", nil))
}

type nopLifecycle struct{}

func (nopLifecycle) CreateStorage(context.Context, string, []byte, []byte, []byte) error {
	return nil
}

func (nopLifecycle) OpenStorage(context.Context, string, []byte, []byte) (Storage, error) {
	return nil, ErrNotFound
}

func (nopLifecycle) DeleteStorage(context.Context, string, []byte, []byte) error {
	return nil
}
