package bbolt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/storagetest"
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

func TestConfigRequiresPath(t *testing.T) {
	_, err := ParseConfig(nil)
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
	_, err = ParseConfig([]byte(`{"path":""}`))
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)

	err = NewLifecycle().CreateStorage(context.Background(), "w", nil, nil, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidStructure)
}

func TestOneFilePerInstance(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg, err := json.Marshal(Config{Path: base})
	require.NoError(t, err)
	lc := NewLifecycle()

	require.NoError(t, lc.CreateStorage(ctx, "alpha", cfg, nil, nil))
	require.NoError(t, lc.CreateStorage(ctx, "beta", cfg, nil, nil))
	for _, name := range []string{"alpha.db", "beta.db"} {
		_, err := os.Stat(filepath.Join(base, name))
		require.NoError(t, err, name)
	}

	require.NoError(t, lc.DeleteStorage(ctx, "alpha", cfg, nil))
	_, err = os.Stat(filepath.Join(base, "alpha.db"))
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, lc.DeleteStorage(ctx, "../beta", cfg, nil), storage.ErrInvalidStructure)
}

func TestEmptyTypeAndID(t *testing.T) {
	ctx := context.Background()
	s, _ := storagetest.Open(t, storagetest.Harness{Lifecycle: NewLifecycle(), Config: testConfig(t)}, nil)

	require.NoError(t, s.Add(ctx, []byte{}, []byte{}, storage.EncryptedValue{Data: []byte("d")}, nil))
	r, err := s.Get(ctx, []byte{}, []byte{}, storage.DefaultRecordOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), r.Value.Data)
	require.NoError(t, s.Delete(ctx, []byte{}, []byte{}))
}
