// Package metrics instruments storage backends with Prometheus counters and
// latency histograms.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

const namespace = "tagvault"

// Metrics holds the storage operation collectors.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend", "op"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.ops, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Result classifies err into a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, storage.ErrItemAlreadyExists):
		return "item_already_exists"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, storage.ErrInvalidStructure):
		return "invalid_structure"
	case errors.Is(err, storage.ErrInvalidState):
		return "invalid_state"
	default:
		return "io"
	}
}

func (m *Metrics) observe(backend, op string, start time.Time, err error) {
	m.ops.WithLabelValues(backend, op, Result(err)).Inc()
	m.duration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// WrapLifecycle instruments lc and every Storage it opens under the backend
// label.
func (m *Metrics) WrapLifecycle(backend string, lc storage.Lifecycle) storage.Lifecycle {
	return &lifecycle{m: m, backend: backend, next: lc}
}

// WrapStorage instruments s under the backend label.
func (m *Metrics) WrapStorage(backend string, s storage.Storage) storage.Storage {
	return &store{m: m, backend: backend, next: s}
}

type lifecycle struct {
	m       *Metrics
	backend string
	next    storage.Lifecycle
}

func (l *lifecycle) CreateStorage(ctx context.Context, id string, config, credentials, metadata []byte) error {
	start := time.Now()
	err := l.next.CreateStorage(ctx, id, config, credentials, metadata)
	l.m.observe(l.backend, "create_storage", start, err)
	return err
}

func (l *lifecycle) OpenStorage(ctx context.Context, id string, config, credentials []byte) (storage.Storage, error) {
	start := time.Now()
	s, err := l.next.OpenStorage(ctx, id, config, credentials)
	l.m.observe(l.backend, "open_storage", start, err)
	if err != nil {
		return nil, err
	}
	return l.m.WrapStorage(l.backend, s), nil
}

func (l *lifecycle) DeleteStorage(ctx context.Context, id string, config, credentials []byte) error {
	start := time.Now()
	err := l.next.DeleteStorage(ctx, id, config, credentials)
	l.m.observe(l.backend, "delete_storage", start, err)
	return err
}

type store struct {
	m       *Metrics
	backend string
	next    storage.Storage
}

// track runs fn and records it under op.
func (s *store) track(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.m.observe(s.backend, op, start, err)
	return err
}

func (s *store) Get(ctx context.Context, typ, id []byte, opts storage.RecordOptions) (r *storage.Record, err error) {
	err = s.track("get", func() error {
		r, err = s.next.Get(ctx, typ, id, opts)
		return err
	})
	return r, err
}

func (s *store) Add(ctx context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	return s.track("add", func() error { return s.next.Add(ctx, typ, id, value, tags) })
}

func (s *store) Update(ctx context.Context, typ, id []byte, value storage.EncryptedValue) error {
	return s.track("update", func() error { return s.next.Update(ctx, typ, id, value) })
}

func (s *store) AddTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	return s.track("add_tags", func() error { return s.next.AddTags(ctx, typ, id, tags) })
}

func (s *store) UpdateTags(ctx context.Context, typ, id []byte, tags []storage.Tag) error {
	return s.track("update_tags", func() error { return s.next.UpdateTags(ctx, typ, id, tags) })
}

func (s *store) DeleteTags(ctx context.Context, typ, id []byte, names []storage.TagName) error {
	return s.track("delete_tags", func() error { return s.next.DeleteTags(ctx, typ, id, names) })
}

func (s *store) Delete(ctx context.Context, typ, id []byte) error {
	return s.track("delete", func() error { return s.next.Delete(ctx, typ, id) })
}

func (s *store) GetStorageMetadata(ctx context.Context) (md []byte, err error) {
	err = s.track("get_metadata", func() error {
		md, err = s.next.GetStorageMetadata(ctx)
		return err
	})
	return md, err
}

func (s *store) SetStorageMetadata(ctx context.Context, metadata []byte) error {
	return s.track("set_metadata", func() error { return s.next.SetStorageMetadata(ctx, metadata) })
}

func (s *store) GetAll(ctx context.Context) (it storage.Iterator, err error) {
	err = s.track("get_all", func() error {
		it, err = s.next.GetAll(ctx)
		return err
	})
	return it, err
}

func (s *store) Search(ctx context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (it storage.Iterator, err error) {
	err = s.track("search", func() error {
		it, err = s.next.Search(ctx, typ, query, opts)
		return err
	})
	return it, err
}

func (s *store) Close() error {
	return s.track("close", s.next.Close)
}
