// Package memory provides a thread-safe in-memory storage backend.
//
// Data lives for the life of the process. It backs the plugin host in tests and
// serves as the reference behaviour the SQL backends are checked against.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// Lifecycle holds named in-memory storage instances.
type Lifecycle struct {
	mu      sync.Mutex
	wallets map[string]*Repository
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle creates an empty set of instances.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{wallets: make(map[string]*Repository)}
}

func (l *Lifecycle) CreateStorage(_ context.Context, id string, _, _, metadata []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wallets[id]; ok {
		return fmt.Errorf("%s: %w", id, storage.ErrAlreadyExists)
	}
	r := NewRepository()
	r.metadata = util.CopyBytes(metadata)
	l.wallets[id] = r
	return nil
}

// OpenStorage returns the instance itself; every session shares its data.
func (l *Lifecycle) OpenStorage(_ context.Context, id string, _, _ []byte) (storage.Storage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (l *Lifecycle) DeleteStorage(_ context.Context, id string, _, _ []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wallets[id]; !ok {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	delete(l.wallets, id)
	return nil
}

type item struct {
	seq   uint64
	id    []byte
	value storage.EncryptedValue
	tags  []storage.Tag
}

func (it *item) tagIndex(name storage.TagName) int {
	for i, t := range it.tags {
		if t.Name.Equal(name) {
			return i
		}
	}
	return -1
}

func (it *item) record(typ []byte, opts storage.RecordOptions) *storage.Record {
	return (&storage.Record{ID: it.id, Type: typ, Value: &it.value, Tags: it.tags}).Shape(opts)
}

// Repository is a thread-safe in-memory storage instance.
type Repository struct {
	mu       sync.RWMutex
	seq      uint64
	metadata []byte
	// type -> id -> item
	data map[string]map[string]*item
}

var _ storage.Storage = (*Repository)(nil)

// NewRepository creates a new empty in-memory instance.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*item)}
}

func (r *Repository) lookup(typ, id []byte) (*item, error) {
	it, ok := r.data[string(typ)][string(id)]
	if !ok {
		return nil, storage.ItemNotFound(typ, id)
	}
	return it, nil
}

func (r *Repository) Get(_ context.Context, typ, id []byte, opts storage.RecordOptions) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, err := r.lookup(typ, id)
	if err != nil {
		return nil, err
	}
	return it.record(typ, opts), nil
}

func (r *Repository) Add(_ context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.data[string(typ)]
	if !ok {
		byID = make(map[string]*item)
		r.data[string(typ)] = byID
	}
	if _, ok := byID[string(id)]; ok {
		return storage.ItemAlreadyExists(typ, id)
	}
	r.seq++
	byID[string(id)] = &item{
		seq:   r.seq,
		id:    util.CopyBytes(id),
		value: value.Clone(),
		tags:  storage.CloneTags(tags),
	}
	return nil
}

func (r *Repository) Update(_ context.Context, typ, id []byte, value storage.EncryptedValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.lookup(typ, id)
	if err != nil {
		return err
	}
	it.value = value.Clone()
	return nil
}

func (r *Repository) AddTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.lookup(typ, id)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if it.tagIndex(t.Name) >= 0 {
			return fmt.Errorf("%s/%s tag %s: %w", typ, id, t.Name, storage.ErrItemAlreadyExists)
		}
	}
	it.tags = append(it.tags, storage.CloneTags(tags)...)
	return nil
}

func (r *Repository) UpdateTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.lookup(typ, id)
	if err != nil {
		return err
	}
	idx := make([]int, len(tags))
	for i, t := range tags {
		if idx[i] = it.tagIndex(t.Name); idx[i] < 0 {
			return fmt.Errorf("%s/%s tag %s: %w", typ, id, t.Name, storage.ErrItemNotFound)
		}
	}
	for i, t := range tags {
		it.tags[idx[i]] = t.Clone()
	}
	return nil
}

func (r *Repository) DeleteTags(_ context.Context, typ, id []byte, names []storage.TagName) error {
	if err := storage.ValidateTagNames(names); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.lookup(typ, id)
	if err != nil {
		return err
	}
	for _, n := range names {
		if it.tagIndex(n) < 0 {
			return fmt.Errorf("%s/%s tag %s: %w", typ, id, n, storage.ErrItemNotFound)
		}
	}
	kept := it.tags[:0]
	for _, t := range it.tags {
		drop := false
		for _, n := range names {
			if t.Name.Equal(n) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, t)
		}
	}
	it.tags = kept
	return nil
}

func (r *Repository) Delete(_ context.Context, typ, id []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookup(typ, id); err != nil {
		return err
	}
	delete(r.data[string(typ)], string(id))
	if len(r.data[string(typ)]) == 0 {
		delete(r.data, string(typ))
	}
	return nil
}

func (r *Repository) GetStorageMetadata(context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return util.CopyBytes(r.metadata), nil
}

func (r *Repository) SetStorageMetadata(_ context.Context, metadata []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = util.CopyBytes(metadata)
	return nil
}

type typedItem struct {
	typ string
	*item
}

// sorted returns the items of typ (every type when all is set) in insertion order.
func (r *Repository) sorted(typ []byte, all bool) []typedItem {
	var items []typedItem
	for t, byID := range r.data {
		if !all && t != string(typ) {
			continue
		}
		for _, it := range byID {
			items = append(items, typedItem{typ: t, item: it})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	return items
}

func (r *Repository) GetAll(context.Context) (storage.Iterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.sorted(nil, true)
	records := make([]*storage.Record, 0, len(items))
	for _, it := range items {
		records = append(records, it.record([]byte(it.typ), storage.FullRecordOptions()))
	}
	return storage.NewSliceIterator(records, nil), nil
}

func (r *Repository) Search(_ context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (storage.Iterator, error) {
	if err := wql.Validate(query); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*storage.Record
	n := 0
	for _, it := range r.sorted(typ, false) {
		if query != nil && !wql.Match(query, storage.TagIndex(it.tags)) {
			continue
		}
		n++
		if opts.RetrieveRecords {
			records = append(records, it.record(typ, opts.RecordOptions()))
		}
	}
	if !opts.RetrieveRecords && opts.RetrieveTotalCount {
		return storage.CountOnly(n), nil
	}
	var total *int
	if opts.RetrieveTotalCount {
		total = &n
	}
	return storage.NewSliceIterator(records, total), nil
}

// Close is a no-op; the data outlives every session.
func (r *Repository) Close() error {
	return nil
}
