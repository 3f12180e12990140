package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/bbolt"
	"github.com/jmcleod/tagvault/storage/memory"
	"github.com/jmcleod/tagvault/storage/storagetest"
)

func TestConformanceMemory(t *testing.T) {
	storagetest.Run(t, storagetest.Harness{
		Lifecycle: NewLifecycle(NewHost(memory.NewLifecycle())),
	})
}

func TestConformanceBBolt(t *testing.T) {
	cfg, err := json.Marshal(bbolt.Config{Path: t.TempDir()})
	require.NoError(t, err)
	storagetest.Run(t, storagetest.Harness{
		Lifecycle: NewLifecycle(NewHost(bbolt.NewLifecycle())),
		Config:    cfg,
	})
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{nil, Success},
		{storage.ErrInvalidStructure, InvalidStructure},
		{storage.ErrInvalidState, InvalidState},
		{storage.ErrNotFound, NotFound},
		{storage.ErrAlreadyExists, AlreadyExists},
		{storage.ItemNotFound([]byte("t"), []byte("i")), ItemNotFound},
		{storage.ItemAlreadyExists([]byte("t"), []byte("i")), ItemAlreadyExists},
		{storage.WrapIO("read", errors.New("disk")), IOError},
		{errors.New("untyped"), IOError},
		{fmt.Errorf("wrapped: %w", ErrInvalidHandle), InvalidHandle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, CodeOf(tt.err), "%v", tt.err)
	}

	for code := Success; code <= ItemAlreadyExists; code++ {
		assert.Equal(t, code, CodeOf(code.Err()), code.String())
	}
	assert.ErrorIs(t, InvalidHandle.Err(), storage.ErrInvalidState)
	assert.ErrorIs(t, ErrorCode(99).Err(), storage.ErrIO)
	assert.Equal(t, "ErrorCode(99)", ErrorCode(99).String())
}

func TestArena(t *testing.T) {
	a := newArena[string]()
	h1 := a.insert("one")
	h2 := a.insert("two")
	assert.NotEqual(t, NoHandle, h1)
	assert.NotEqual(t, h1, h2)

	v, ok := a.get(h1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = a.remove(h1)
	assert.True(t, ok)
	_, ok = a.remove(h1)
	assert.False(t, ok)
	_, ok = a.get(NoHandle)
	assert.False(t, ok)
	assert.Equal(t, 1, a.len())

	t.Run("wraps without reusing live handles", func(t *testing.T) {
		a := newArena[int]()
		first := a.insert(1)
		a.next = math.MaxInt32 - 1
		last := a.insert(2)
		assert.Equal(t, Handle(math.MaxInt32), last)
		wrapped := a.insert(3)
		assert.NotEqual(t, first, wrapped)
		assert.NotEqual(t, NoHandle, wrapped)
		assert.Equal(t, 3, a.len())
	})
}

func openHost(t *testing.T) (*Host, Handle) {
	t.Helper()
	h := NewHost(memory.NewLifecycle())
	require.Equal(t, Success, h.CreateStorage("w1", "", "", []byte("meta")))
	sh, code := h.OpenStorage("w1", "", "")
	require.Equal(t, Success, code)
	return h, sh
}

func TestHostInvalidHandles(t *testing.T) {
	h, sh := openHost(t)

	assert.Equal(t, InvalidHandle, h.AddRecord(sh+100, []byte("t"), []byte("i"), nil, nil, "{}"))
	_, code := h.GetRecord(NoHandle, []byte("t"), []byte("i"), "")
	assert.Equal(t, InvalidHandle, code)
	_, code = h.GetRecordID(42)
	assert.Equal(t, InvalidHandle, code)
	_, code = h.FetchSearchNextRecord(42)
	assert.Equal(t, InvalidHandle, code)
	assert.Equal(t, InvalidHandle, h.FreeStorageMetadata(42))

	require.Equal(t, Success, h.AddRecord(sh, []byte("t"), []byte("i"), []byte("v"), []byte("k"), `{"~YQ==":"1"}`))
	rh, code := h.GetRecord(sh, []byte("t"), []byte("i"), "")
	require.Equal(t, Success, code)
	require.Equal(t, Success, h.FreeRecord(rh))
	assert.Equal(t, InvalidHandle, h.FreeRecord(rh), "double free")
	_, _, code = h.GetRecordValue(rh)
	assert.Equal(t, InvalidHandle, code)

	require.Equal(t, Success, h.CloseStorage(sh))
	assert.Equal(t, InvalidHandle, h.CloseStorage(sh))
	assert.Equal(t, InvalidHandle, h.DeleteRecord(sh, []byte("t"), []byte("i")))
}

func TestHostRecordFields(t *testing.T) {
	h, sh := openHost(t)
	require.Equal(t, Success, h.AddRecord(sh, []byte("t"), []byte("i"), []byte("v"), []byte("k"), `{"~YQ==":"1"}`))

	rh, code := h.GetRecord(sh, []byte("t"), []byte("i"), `{"retrieveValue":false}`)
	require.Equal(t, Success, code)
	defer h.FreeRecord(rh) //nolint:errcheck

	id, code := h.GetRecordID(rh)
	require.Equal(t, Success, code)
	assert.Equal(t, []byte("i"), id)
	typ, code := h.GetRecordType(rh)
	require.Equal(t, Success, code)
	assert.Nil(t, typ)
	value, key, code := h.GetRecordValue(rh)
	require.Equal(t, Success, code)
	assert.Nil(t, value)
	assert.Nil(t, key)
	tags, code := h.GetRecordTags(rh)
	require.Equal(t, Success, code)
	assert.Empty(t, tags)

	_, code = h.GetRecord(sh, []byte("t"), []byte("missing"), "")
	assert.Equal(t, ItemNotFound, code)
	_, code = h.GetRecord(sh, []byte("t"), []byte("i"), `{"retrieveTags":1}`)
	assert.Equal(t, InvalidStructure, code)
}

func TestHostSearch(t *testing.T) {
	h, sh := openHost(t)
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, Success, h.AddRecord(sh, []byte("t"), []byte(id), []byte("v"), nil, `{"~bg==":"`+id+`"}`))
	}

	srh, code := h.SearchRecords(sh, []byte("t"), `{"~bg==":{"$neq":"b"}}`, `{"retrieveTotalCount":true}`)
	require.Equal(t, Success, code)
	n, code := h.GetSearchTotalCount(srh)
	require.Equal(t, Success, code)
	assert.Equal(t, int64(2), n)

	var ids []string
	for {
		rh, code := h.FetchSearchNextRecord(srh)
		require.Equal(t, Success, code)
		if rh == NoHandle {
			break
		}
		id, _ := h.GetRecordID(rh)
		ids = append(ids, string(id))
		require.Equal(t, Success, h.FreeRecord(rh))
	}
	assert.Equal(t, []string{"a", "c"}, ids)
	require.Equal(t, Success, h.FreeSearch(srh))

	srh, code = h.SearchAllRecords(sh)
	require.Equal(t, Success, code)
	n, _ = h.GetSearchTotalCount(srh)
	assert.Equal(t, int64(-1), n)
	require.Equal(t, Success, h.FreeSearch(srh))

	_, code = h.SearchRecords(sh, []byte("t"), `{"$bogus":1}`, "")
	assert.Equal(t, InvalidStructure, code)
	_, code = h.SearchRecords(sh, []byte("t"), `{"bg==":{"$gt":"1"}}`, "")
	assert.Equal(t, InvalidStructure, code)

	_, searches, records, _ := h.Live()
	assert.Zero(t, searches)
	assert.Zero(t, records)
}

func TestHostMetadata(t *testing.T) {
	h, sh := openHost(t)
	md, mh, code := h.GetStorageMetadata(sh)
	require.Equal(t, Success, code)
	assert.Equal(t, []byte("meta"), md)

	// The blob lives in its own locked region, not in the backend's memory.
	require.Equal(t, Success, h.SetStorageMetadata(sh, []byte("next")))
	assert.Equal(t, []byte("meta"), md)

	require.Equal(t, Success, h.SetStorageMetadata(sh, nil))
	empty, eh, code := h.GetStorageMetadata(sh)
	require.Equal(t, Success, code)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, _, _, live := h.Live()
	assert.Equal(t, 2, live)
	require.Equal(t, Success, h.FreeStorageMetadata(mh))
	require.Equal(t, Success, h.FreeStorageMetadata(eh))
	assert.Equal(t, InvalidHandle, h.FreeStorageMetadata(mh), "double free")
	_, _, _, live = h.Live()
	assert.Zero(t, live)
}

func TestAdapterReleasesHandles(t *testing.T) {
	ctx := context.Background()
	host := NewHost(memory.NewLifecycle())
	lc := NewLifecycle(host)
	require.NoError(t, lc.CreateStorage(ctx, "w", nil, nil, []byte("m")))
	s, err := lc.OpenStorage(ctx, "w", nil, nil)
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.Add(ctx, []byte("t"), []byte(id), storage.EncryptedValue{Data: []byte(id)}, nil))
	}
	_, err = s.Get(ctx, []byte("t"), []byte("a"), storage.FullRecordOptions())
	require.NoError(t, err)
	_, err = s.GetStorageMetadata(ctx)
	require.NoError(t, err)

	drained, err := s.Search(ctx, []byte("t"), nil, storage.DefaultSearchOptions())
	require.NoError(t, err)
	got, err := storage.Collect(ctx, drained)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	abandoned, err := s.GetAll(ctx)
	require.NoError(t, err)
	_, err = abandoned.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, abandoned.Close())

	storages, searches, records, metadata := host.Live()
	assert.Equal(t, 1, storages)
	assert.Zero(t, searches)
	assert.Zero(t, records)
	assert.Zero(t, metadata)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	storages, _, _, _ = host.Live()
	assert.Zero(t, storages)
}

func TestAdapterErrors(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(NewHost(memory.NewLifecycle()))
	_, err := lc.OpenStorage(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, lc.CreateStorage(ctx, "w", nil, nil, nil))
	assert.ErrorIs(t, lc.CreateStorage(ctx, "w", nil, nil, nil), storage.ErrAlreadyExists)
	s, err := lc.OpenStorage(ctx, "w", nil, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	err = s.Update(ctx, []byte("t"), []byte("nope"), storage.EncryptedValue{})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)

	dup := []storage.Tag{storage.PlainTag([]byte("a"), "1"), storage.PlainTag([]byte("a"), "2")}
	err = s.Add(ctx, []byte("t"), []byte("i"), storage.EncryptedValue{}, dup)
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
}
