package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, storagetest.Harness{Lifecycle: NewLifecycle()})
}

func TestIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	value := storage.EncryptedValue{Data: []byte("ciphertext"), Key: []byte("key")}
	tags := []storage.Tag{storage.PlainTag([]byte("name"), "value")}
	require.NoError(t, repo.Add(ctx, []byte("t"), []byte("id"), value, tags))

	// Mutating caller-owned slices must not reach the stored item.
	value.Data[0] = 'X'
	tags[0].Value[0] = 'X'

	got, err := repo.Get(ctx, []byte("t"), []byte("id"), storage.FullRecordOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got.Value.Data)
	assert.Equal(t, "value", got.Tags[0].Text())

	got.Value.Data[0] = 'Y'
	got.Tags[0].Value[0] = 'Y'
	again, err := repo.Get(ctx, []byte("t"), []byte("id"), storage.FullRecordOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), again.Value.Data)
	assert.Equal(t, "value", again.Tags[0].Text())
}

func TestSessionsShareData(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle()
	require.NoError(t, lc.CreateStorage(ctx, "w", nil, nil, nil))
	a, err := lc.OpenStorage(ctx, "w", nil, nil)
	require.NoError(t, err)
	b, err := lc.OpenStorage(ctx, "w", nil, nil)
	require.NoError(t, err)

	require.NoError(t, a.Add(ctx, []byte("t"), []byte("id"), storage.EncryptedValue{}, nil))
	require.NoError(t, a.Close())
	_, err = b.Get(ctx, []byte("t"), []byte("id"), storage.DefaultRecordOptions())
	assert.NoError(t, err)
}
