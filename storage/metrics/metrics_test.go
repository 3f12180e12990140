package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/storage/memory"
	"github.com/jmcleod/tagvault/storage/storagetest"
)

func TestConformance(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	storagetest.Run(t, storagetest.Harness{Lifecycle: m.WrapLifecycle("memory", memory.NewLifecycle())})
}

func TestCountsOperations(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	lc := m.WrapLifecycle("memory", memory.NewLifecycle())

	require.NoError(t, lc.CreateStorage(ctx, "w", nil, nil, nil))
	_, err = lc.OpenStorage(ctx, "missing", nil, nil)
	require.ErrorIs(t, err, storage.ErrNotFound)
	s, err := lc.OpenStorage(ctx, "w", nil, nil)
	require.NoError(t, err)

	value := storage.EncryptedValue{Data: []byte("v")}
	require.NoError(t, s.Add(ctx, []byte("t"), []byte("a"), value, nil))
	require.ErrorIs(t, s.Add(ctx, []byte("t"), []byte("a"), value, nil), storage.ErrItemAlreadyExists)
	_, err = s.Get(ctx, []byte("t"), []byte("b"), storage.DefaultRecordOptions())
	require.ErrorIs(t, err, storage.ErrItemNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("memory", "create_storage", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("memory", "open_storage", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("memory", "add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("memory", "add", "item_already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("memory", "get", "item_not_found")))

	// open_storage, create_storage, add and get each have one latency series.
	assert.Equal(t, 4, testutil.CollectAndCount(m.duration))

	_, err = New(reg)
	assert.Error(t, err, "collectors register once per registry")
}

func TestResult(t *testing.T) {
	tests := map[error]string{
		nil:                                 "ok",
		storage.ErrInvalidStructure:         "invalid_structure",
		storage.ErrInvalidState:             "invalid_state",
		storage.ErrAlreadyExists:            "already_exists",
		storage.WrapIO("x", assert.AnError): "io",
	}
	for err, want := range tests {
		assert.Equal(t, want, Result(err))
	}
}
