package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/storagetest"
	"github.com/jmcleod/tagvault/storage/wqlsql"
	"github.com/jmcleod/tagvault/wql"
)

func testConfig(t *testing.T) []byte {
	t.Helper()
	cfg, err := json.Marshal(Config{Path: t.TempDir()})
	require.NoError(t, err)
	return cfg
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, storagetest.Harness{
		Lifecycle: NewLifecycle(),
		Config:    testConfig(t),
	})
}

func TestFileLayout(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg := []byte(`{"path":"` + filepath.ToSlash(base) + `"}`)
	lc := NewLifecycle()

	require.NoError(t, lc.CreateStorage(ctx, "wallet", cfg, nil, []byte("m")))
	_, err := os.Stat(filepath.Join(base, "wallet", "sqlite.db"))
	require.NoError(t, err)

	require.NoError(t, lc.DeleteStorage(ctx, "wallet", cfg, nil))
	_, err = os.Stat(filepath.Join(base, "wallet"))
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidIDs(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	lc := NewLifecycle()
	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		assert.ErrorIs(t, lc.CreateStorage(ctx, id, cfg, nil, nil), storage.ErrInvalidStructure, id)
		_, err := lc.OpenStorage(ctx, id, cfg, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidStructure, id)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	def, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, def, cfg.Path)

	cfg, err = ParseConfig([]byte(`{"path":"/tmp/wallets"}`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wallets", cfg.Path)

	_, err = ParseConfig([]byte(`{"path":1}`))
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	lc := NewLifecycle()
	require.NoError(t, lc.CreateStorage(ctx, "persist", cfg, nil, nil))

	s, err := lc.OpenStorage(ctx, "persist", cfg, nil)
	require.NoError(t, err)
	tags := []storage.Tag{storage.PlainTag([]byte("n"), "1.5")}
	require.NoError(t, s.Add(ctx, []byte("t"), []byte("i"), storage.EncryptedValue{Data: []byte("d"), Key: []byte("k")}, tags))
	require.NoError(t, s.Close())

	s, err = lc.OpenStorage(ctx, "persist", cfg, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	r, err := s.Get(ctx, []byte("t"), []byte("i"), storage.FullRecordOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), r.Value.Data)
	assert.Equal(t, tags, r.Tags)
}

func TestSearchLoadsTagsAcrossBatches(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	lc := NewLifecycle()
	require.NoError(t, lc.CreateStorage(ctx, "batched", cfg, nil, nil))
	s, err := lc.OpenStorage(ctx, "batched", cfg, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	n := wqlsql.TagBatch + 5
	for i := 0; i < n; i++ {
		id := []byte(strconv.Itoa(i))
		tags := []storage.Tag{storage.PlainTag([]byte("n"), strconv.Itoa(i))}
		if i%2 == 0 {
			tags = append(tags, storage.EncryptedTag([]byte("e"), id))
		}
		require.NoError(t, s.Add(ctx, []byte("t"), id, storage.EncryptedValue{Data: id, Key: []byte("k")}, tags))
	}
	require.NoError(t, s.Add(ctx, []byte("t"), []byte("bare"), storage.EncryptedValue{Data: []byte("d"), Key: []byte("k")}, nil))

	it, err := s.Search(ctx, []byte("t"), wql.All(), storage.DefaultSearchOptions())
	require.NoError(t, err)
	records, err := storage.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, n+1)
	for i, r := range records[:n] {
		want := []storage.Tag{storage.PlainTag([]byte("n"), strconv.Itoa(i))}
		if i%2 == 0 {
			want = append(want, storage.EncryptedTag([]byte("e"), []byte(strconv.Itoa(i))))
		}
		assert.ElementsMatch(t, want, r.Tags, string(r.ID))
	}
	assert.NotNil(t, records[n].Tags)
	assert.Empty(t, records[n].Tags)
}
