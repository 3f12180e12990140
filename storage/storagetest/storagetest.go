// Package storagetest is a conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/internal/uuid"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// Harness is a backend under test.
type Harness struct {
	Lifecycle   storage.Lifecycle
	Config      []byte
	Credentials []byte
}

// NewID returns a storage id that no other test uses.
func NewID() string {
	return "w" + uuid.Compact()
}

// Open creates a fresh storage instance holding metadata, opens it and arranges
// for both the session and the instance to be removed when the test ends.
func Open(t *testing.T, h Harness, metadata []byte) (storage.Storage, string) {
	t.Helper()
	ctx := context.Background()
	id := NewID()
	require.NoError(t, h.Lifecycle.CreateStorage(ctx, id, h.Config, h.Credentials, metadata))
	s, err := h.Lifecycle.OpenStorage(ctx, id, h.Config, h.Credentials)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = h.Lifecycle.DeleteStorage(context.Background(), id, h.Config, h.Credentials)
	})
	return s, id
}

// Run exercises the whole Storage and Lifecycle contract against h.
func Run(t *testing.T, h Harness) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, h) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, h) })
	t.Run("RecordOptions", func(t *testing.T) { testRecordOptions(t, h) })
	t.Run("Uniqueness", func(t *testing.T) { testUniqueness(t, h) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, h) })
	t.Run("AddTags", func(t *testing.T) { testAddTags(t, h) })
	t.Run("UpdateTags", func(t *testing.T) { testUpdateTags(t, h) })
	t.Run("DeleteTags", func(t *testing.T) { testDeleteTags(t, h) })
	t.Run("EmptyTagSets", func(t *testing.T) { testEmptyTagSets(t, h) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, h) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, h) })
	t.Run("InjectionSafety", func(t *testing.T) { testInjectionSafety(t, h) })
	t.Run("QueryTable", func(t *testing.T) { testQueryTable(t, h) })
	t.Run("CountAndRecords", func(t *testing.T) { testCountAndRecords(t, h) })
	t.Run("SearchOptions", func(t *testing.T) { testSearchOptions(t, h) })
	t.Run("TypeIsolation", func(t *testing.T) { testTypeIsolation(t, h) })
	t.Run("Metadata", func(t *testing.T) { testMetadata(t, h) })
	t.Run("GetAll", func(t *testing.T) { testGetAll(t, h) })
	t.Run("Copy", func(t *testing.T) { testCopy(t, h) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, h) })
}

var (
	credType = []byte("credential")
	value1   = storage.EncryptedValue{Data: []byte{0x01, 0x00, 0xff}, Key: []byte("key-1")}
	value2   = storage.EncryptedValue{Data: []byte("second value"), Key: []byte{0x00}}
)

func sampleTags() []storage.Tag {
	return []storage.Tag{
		storage.EncryptedTag([]byte("enc"), []byte{0xca, 0xfe}),
		storage.PlainTag([]byte("plain"), "text value"),
		storage.PlainTag([]byte("enc"), "same name, other kind"),
	}
}

func get(t *testing.T, s storage.Storage, typ, id []byte) *storage.Record {
	t.Helper()
	r, err := s.Get(context.Background(), typ, id, storage.FullRecordOptions())
	require.NoError(t, err)
	return r
}

func testLifecycle(t *testing.T, h Harness) {
	ctx := context.Background()
	lc := h.Lifecycle
	id := NewID()

	_, err := lc.OpenStorage(ctx, id, h.Config, h.Credentials)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, lc.DeleteStorage(ctx, id, h.Config, h.Credentials), storage.ErrNotFound)

	require.NoError(t, lc.CreateStorage(ctx, id, h.Config, h.Credentials, []byte("meta")))
	assert.ErrorIs(t, lc.CreateStorage(ctx, id, h.Config, h.Credentials, []byte("other")), storage.ErrAlreadyExists)

	s, err := lc.OpenStorage(ctx, id, h.Config, h.Credentials)
	require.NoError(t, err)
	md, err := s.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), md)
	require.NoError(t, s.Add(ctx, credType, []byte("a"), value1, nil))
	require.NoError(t, s.Close())

	require.NoError(t, lc.DeleteStorage(ctx, id, h.Config, h.Credentials))
	_, err = lc.OpenStorage(ctx, id, h.Config, h.Credentials)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The id is free again and starts empty.
	require.NoError(t, lc.CreateStorage(ctx, id, h.Config, h.Credentials, nil))
	s, err = lc.OpenStorage(ctx, id, h.Config, h.Credentials)
	require.NoError(t, err)
	_, err = s.Get(ctx, credType, []byte("a"), storage.DefaultRecordOptions())
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
	require.NoError(t, s.Close())
	require.NoError(t, lc.DeleteStorage(ctx, id, h.Config, h.Credentials))
}

func testRoundTrip(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)

	require.NoError(t, s.Add(ctx, credType, []byte("id-1"), value1, sampleTags()))
	r := get(t, s, credType, []byte("id-1"))
	assert.Equal(t, []byte("id-1"), r.ID)
	assert.Equal(t, credType, r.Type)
	require.NotNil(t, r.Value)
	assert.True(t, value1.Equal(*r.Value))
	assert.ElementsMatch(t, sampleTags(), r.Tags)

	_, err := s.Get(ctx, credType, []byte("missing"), storage.DefaultRecordOptions())
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func testRecordOptions(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, nil))

	r, err := s.Get(ctx, credType, []byte("id"), storage.DefaultRecordOptions())
	require.NoError(t, err)
	assert.Nil(t, r.Type)
	assert.Nil(t, r.Tags)
	require.NotNil(t, r.Value)

	r, err = s.Get(ctx, credType, []byte("id"), storage.RecordOptions{RetrieveTags: true})
	require.NoError(t, err)
	assert.Nil(t, r.Value)
	assert.NotNil(t, r.Tags, "requested tags are an empty list, not absent")
	assert.Empty(t, r.Tags)
}

func testUniqueness(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)

	require.NoError(t, s.Add(ctx, credType, []byte("dup"), value1, sampleTags()))
	err := s.Add(ctx, credType, []byte("dup"), value2, nil)
	assert.ErrorIs(t, err, storage.ErrItemAlreadyExists)

	r := get(t, s, credType, []byte("dup"))
	assert.True(t, value1.Equal(*r.Value), "failed add must not touch the existing item")
	assert.ElementsMatch(t, sampleTags(), r.Tags)

	// Same id under another type is a different item.
	require.NoError(t, s.Add(ctx, []byte("other"), []byte("dup"), value2, nil))
}

func testUpdate(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	require.NoError(t, s.Update(ctx, credType, []byte("id"), value2))
	r := get(t, s, credType, []byte("id"))
	assert.True(t, value2.Equal(*r.Value))
	assert.ElementsMatch(t, sampleTags(), r.Tags)

	// Writing the same value again is still a successful update.
	require.NoError(t, s.Update(ctx, credType, []byte("id"), value2))

	assert.ErrorIs(t, s.Update(ctx, credType, []byte("missing"), value1), storage.ErrItemNotFound)
}

func testAddTags(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	extra := storage.PlainTag([]byte("extra"), "1")
	require.NoError(t, s.AddTags(ctx, credType, []byte("id"), []storage.Tag{extra}))
	assert.ElementsMatch(t, append(sampleTags(), extra), get(t, s, credType, []byte("id")).Tags)

	// A colliding name fails the whole call.
	fresh := storage.EncryptedTag([]byte("fresh"), []byte("v"))
	collide := storage.PlainTag([]byte("plain"), "replacement")
	err := s.AddTags(ctx, credType, []byte("id"), []storage.Tag{fresh, collide})
	assert.ErrorIs(t, err, storage.ErrItemAlreadyExists)
	assert.ElementsMatch(t, append(sampleTags(), extra), get(t, s, credType, []byte("id")).Tags)

	err = s.AddTags(ctx, credType, []byte("missing"), []storage.Tag{fresh})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func testUpdateTags(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	updated := storage.PlainTag([]byte("plain"), "new text")
	require.NoError(t, s.UpdateTags(ctx, credType, []byte("id"), []storage.Tag{updated}))
	want := []storage.Tag{sampleTags()[0], updated, sampleTags()[2]}
	assert.ElementsMatch(t, want, get(t, s, credType, []byte("id")).Tags)

	// One absent name leaves every tag as it was.
	err := s.UpdateTags(ctx, credType, []byte("id"), []storage.Tag{
		storage.EncryptedTag([]byte("enc"), []byte("changed")),
		storage.PlainTag([]byte("absent"), "x"),
	})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
	assert.ElementsMatch(t, want, get(t, s, credType, []byte("id")).Tags)

	err = s.UpdateTags(ctx, credType, []byte("missing"), []storage.Tag{updated})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func testDeleteTags(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	err := s.DeleteTags(ctx, credType, []byte("id"), []storage.TagName{
		storage.EncryptedTagName([]byte("enc")),
		storage.PlainTagName([]byte("absent")),
	})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
	assert.ElementsMatch(t, sampleTags(), get(t, s, credType, []byte("id")).Tags)

	require.NoError(t, s.DeleteTags(ctx, credType, []byte("id"), []storage.TagName{
		storage.EncryptedTagName([]byte("enc")),
	}))
	assert.ElementsMatch(t, sampleTags()[1:], get(t, s, credType, []byte("id")).Tags)

	err = s.DeleteTags(ctx, credType, []byte("missing"), []storage.TagName{storage.PlainTagName([]byte("plain"))})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func testEmptyTagSets(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	require.NoError(t, s.AddTags(ctx, credType, []byte("id"), nil))
	require.NoError(t, s.UpdateTags(ctx, credType, []byte("id"), []storage.Tag{}))
	require.NoError(t, s.DeleteTags(ctx, credType, []byte("id"), nil))
	assert.ElementsMatch(t, sampleTags(), get(t, s, credType, []byte("id")).Tags)

	assert.ErrorIs(t, s.AddTags(ctx, credType, []byte("missing"), nil), storage.ErrItemNotFound)
	assert.ErrorIs(t, s.UpdateTags(ctx, credType, []byte("missing"), nil), storage.ErrItemNotFound)
	assert.ErrorIs(t, s.DeleteTags(ctx, credType, []byte("missing"), nil), storage.ErrItemNotFound)
}

func testCascadeDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	id := []byte("doomed")
	require.NoError(t, s.Add(ctx, credType, id, value1, sampleTags()))
	require.NoError(t, s.Delete(ctx, credType, id))

	_, err := s.Get(ctx, credType, id, storage.FullRecordOptions())
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
	assert.ErrorIs(t, s.Delete(ctx, credType, id), storage.ErrItemNotFound)
	assert.ErrorIs(t, s.AddTags(ctx, credType, id, sampleTags()[:1]), storage.ErrItemNotFound)
	assert.ErrorIs(t, s.UpdateTags(ctx, credType, id, sampleTags()[:1]), storage.ErrItemNotFound)
	assert.ErrorIs(t, s.DeleteTags(ctx, credType, id, []storage.TagName{sampleTags()[0].Name}), storage.ErrItemNotFound)

	// No orphaned tags survive to be picked up by a new item under the same identity.
	require.NoError(t, s.Add(ctx, credType, id, value2, nil))
	assert.Empty(t, get(t, s, credType, id).Tags)
	found := searchIDs(t, s, credType, `{"~plain":"text value"}`)
	assert.Empty(t, found)
}

func testInvalidInput(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)

	dup := []storage.Tag{storage.PlainTag([]byte("a"), "1"), storage.PlainTag([]byte("a"), "2")}
	assert.ErrorIs(t, s.Add(ctx, credType, []byte("id"), value1, dup), storage.ErrInvalidStructure)
	_, err := s.Get(ctx, credType, []byte("id"), storage.DefaultRecordOptions())
	assert.ErrorIs(t, err, storage.ErrItemNotFound)

	q := wql.Compare{Op: wql.Gt, Name: wql.Encrypted([]byte("enc")), Value: []byte("1")}
	_, err = s.Search(ctx, credType, q, storage.DefaultSearchOptions())
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
}

func testInjectionSafety(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	hostile := []string{
		"value'); DROP TABLE items; --",
		`x" OR "1"="1`,
		"'; DELETE FROM tags_plaintext WHERE '1'='1",
		"%_\\",
	}
	for i, hv := range hostile {
		id := []byte(fmt.Sprintf("hostile-%d", i))
		tags := []storage.Tag{
			storage.PlainTag([]byte(hv), hv),
			storage.EncryptedTag([]byte(hv), []byte(hv)),
		}
		require.NoError(t, s.Add(ctx, []byte(hv), id, value1, tags))
		r := get(t, s, []byte(hv), id)
		assert.ElementsMatch(t, tags, r.Tags)

		q := wql.And{
			wql.Compare{Op: wql.Eq, Name: wql.Plain([]byte(hv)), Value: []byte(hv)},
			wql.Compare{Op: wql.Eq, Name: wql.Encrypted([]byte(hv)), Value: []byte(hv)},
		}
		it, err := s.Search(ctx, []byte(hv), q, storage.DefaultSearchOptions())
		require.NoError(t, err)
		records, err := storage.Collect(ctx, it)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, id, records[0].ID)
	}

	// The schema is intact and still holds every hostile item.
	it, err := s.GetAll(ctx)
	require.NoError(t, err)
	all, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	assert.Len(t, all, len(hostile))
}

// Fixture records tagged with encrypted tagName1..3 and plain ~tagName2,
// ~tagName3 carrying the same values.
var fixture = []struct {
	id     string
	values [3]string
}{
	{"R1", [3]string{"str1", "4", "12"}},
	{"R2", [3]string{"str2", "pre_str3", "2"}},
	{"R3", [3]string{"str1", "str2", "str3"}},
	{"R4", [3]string{"2", "4", "5"}},
	{"R5", [3]string{"p_str2_s", "str3", "6"}},
}

func loadFixture(t *testing.T, s storage.Storage) {
	t.Helper()
	ctx := context.Background()
	for _, f := range fixture {
		tags := []storage.Tag{
			storage.EncryptedTag([]byte("tagName1"), []byte(f.values[0])),
			storage.EncryptedTag([]byte("tagName2"), []byte(f.values[1])),
			storage.EncryptedTag([]byte("tagName3"), []byte(f.values[2])),
			storage.PlainTag([]byte("tagName2"), f.values[1]),
			storage.PlainTag([]byte("tagName3"), f.values[2]),
		}
		v := storage.EncryptedValue{Data: []byte("data-" + f.id), Key: []byte("key-" + f.id)}
		require.NoError(t, s.Add(ctx, credType, []byte(f.id), v, tags))
	}
}

func searchIDs(t *testing.T, s storage.Storage, typ []byte, query string) []string {
	t.Helper()
	ctx := context.Background()
	q, err := wql.Parse([]byte(query))
	require.NoError(t, err)
	it, err := s.Search(ctx, typ, q, storage.DefaultSearchOptions())
	require.NoError(t, err)
	records, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, string(r.ID))
	}
	sort.Strings(ids)
	return ids
}

func testQueryTable(t *testing.T, h Harness) {
	s, _ := Open(t, h, nil)
	loadFixture(t, s)

	tests := []struct {
		query string
		want  []string
	}{
		{`{"tagName1":"str1"}`, []string{"R1", "R3"}},
		{`{"tagName1":{"$neq":"str1"}}`, []string{"R2", "R4", "R5"}},
		{`{"~tagName3":{"$gt":"6"}}`, []string{"R1"}},
		{`{"~tagName2":{"$like":"%str3%"}}`, []string{"R2", "R5"}},
		{`{"$not":{"tagName1":"str1"}}`, []string{"R2", "R4", "R5"}},
		{`{}`, []string{"R1", "R2", "R3", "R4", "R5"}},
		{`{"$or":[]}`, []string{}},
		{`{"tagName2":{"$in":["4","str3"]}}`, []string{"R1", "R4", "R5"}},
		{`{"$or":[{"tagName1":"str2"},{"~tagName3":{"$lte":"5"}}]}`, []string{"R2", "R4"}},
		{`{"~tagName3":{"$gte":"str"}}`, []string{"R3"}},
		{`{"~tagName2":{"$like":"STR%"}}`, []string{}},
		{`{"~tagName2":{"$like":"str_"}}`, []string{"R3", "R5"}},
		{`{"$not":{"missing":"x"}}`, []string{"R1", "R2", "R3", "R4", "R5"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, searchIDs(t, s, credType, tt.query))
		})
	}
}

func testCountAndRecords(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	loadFixture(t, s)
	q, err := wql.Parse([]byte(`{"tagName1":{"$neq":"str1"}}`))
	require.NoError(t, err)

	it, err := s.Search(ctx, credType, q, storage.SearchOptions{RetrieveTotalCount: true})
	require.NoError(t, err)
	n, ok := it.TotalCount()
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	r, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)
	require.NoError(t, it.Close())

	it, err = s.Search(ctx, credType, q, storage.DefaultSearchOptions())
	require.NoError(t, err)
	_, ok = it.TotalCount()
	assert.False(t, ok)
	records, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	it, err = s.Search(ctx, credType, q, storage.SearchOptions{RetrieveRecords: true, RetrieveTotalCount: true})
	require.NoError(t, err)
	n, ok = it.TotalCount()
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	records, err = storage.Collect(ctx, it)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func testSearchOptions(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, credType, []byte("id"), value1, sampleTags()))

	it, err := s.Search(ctx, credType, wql.All(), storage.SearchOptions{
		RetrieveRecords: true, RetrieveType: true, RetrieveTags: true,
	})
	require.NoError(t, err)
	records, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, credType, records[0].Type)
	assert.Nil(t, records[0].Value)
	assert.ElementsMatch(t, sampleTags(), records[0].Tags)

	it, err = s.Search(ctx, credType, wql.All(), storage.DefaultSearchOptions())
	require.NoError(t, err)
	records, err = storage.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Type)
	assert.ElementsMatch(t, sampleTags(), records[0].Tags)
	require.NotNil(t, records[0].Value)
	assert.True(t, value1.Equal(*records[0].Value))
}

func testTypeIsolation(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	tags := []storage.Tag{storage.PlainTag([]byte("k"), "v")}
	require.NoError(t, s.Add(ctx, []byte("a"), []byte("1"), value1, tags))
	require.NoError(t, s.Add(ctx, []byte("b"), []byte("2"), value1, tags))

	assert.Equal(t, []string{"1"}, searchIDs(t, s, []byte("a"), `{"~k":"v"}`))
	assert.Equal(t, []string{"2"}, searchIDs(t, s, []byte("b"), `{"~k":"v"}`))
	assert.Empty(t, searchIDs(t, s, []byte("c"), `{}`))

	// Another instance of the same backend is a separate scope.
	other, _ := Open(t, h, nil)
	assert.Empty(t, searchIDs(t, other, []byte("a"), `{}`))
	_, err := other.Get(ctx, []byte("a"), []byte("1"), storage.DefaultRecordOptions())
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func testMetadata(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, []byte(`{"master":"key"}`))

	md, err := s.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"master":"key"}`), md)

	blob := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, s.SetStorageMetadata(ctx, blob))
	md, err = s.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob, md)
}

func testGetAll(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	require.NoError(t, s.Add(ctx, []byte("a"), []byte("1"), value1, sampleTags()))
	require.NoError(t, s.Add(ctx, []byte("b"), []byte("2"), value2, nil))

	it, err := s.GetAll(ctx)
	require.NoError(t, err)
	records, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byType := map[string]*storage.Record{}
	for _, r := range records {
		byType[string(r.Type)] = r
	}
	require.Contains(t, byType, "a")
	require.Contains(t, byType, "b")
	assert.Equal(t, []byte("1"), byType["a"].ID)
	assert.True(t, value1.Equal(*byType["a"].Value))
	assert.ElementsMatch(t, sampleTags(), byType["a"].Tags)
	assert.True(t, value2.Equal(*byType["b"].Value))
	assert.NotNil(t, byType["b"].Tags)
	assert.Empty(t, byType["b"].Tags)
}

func testCopy(t *testing.T, h Harness) {
	ctx := context.Background()
	src, _ := Open(t, h, []byte("source metadata"))
	loadFixture(t, src)
	dst, _ := Open(t, h, nil)

	n, err := storage.Copy(ctx, dst, src)
	require.NoError(t, err)
	assert.Equal(t, len(fixture), n)

	md, err := dst.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("source metadata"), md)

	for _, f := range fixture {
		want := get(t, src, credType, []byte(f.id))
		got := get(t, dst, credType, []byte(f.id))
		assert.True(t, want.Value.Equal(*got.Value))
		assert.ElementsMatch(t, want.Tags, got.Tags)
	}
	assert.Equal(t, []string{"R1", "R3"}, searchIDs(t, dst, credType, `{"tagName1":"str1"}`))

	// Copying again collides on every item.
	_, err = storage.Copy(ctx, dst, src)
	assert.ErrorIs(t, err, storage.ErrItemAlreadyExists)
}

func testConcurrentWriters(t *testing.T, h Harness) {
	ctx := context.Background()
	s, _ := Open(t, h, nil)
	const writers, perWriter = 4, 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := []byte(fmt.Sprintf("w%d-%d", w, i))
				tags := []storage.Tag{storage.PlainTag([]byte("writer"), fmt.Sprint(w))}
				if err := s.Add(ctx, credType, id, value1, tags); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	var all []error
	for err := range errs {
		all = append(all, err)
	}
	require.NoError(t, errors.Join(all...))

	it, err := s.Search(ctx, credType, wql.All(), storage.SearchOptions{RetrieveTotalCount: true})
	require.NoError(t, err)
	n, ok := it.TotalCount()
	require.True(t, ok)
	assert.Equal(t, writers*perWriter, n)
	require.NoError(t, it.Close())
	assert.Len(t, searchIDs(t, s, credType, `{"~writer":"2"}`), perWriter)
}
