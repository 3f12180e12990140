package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// Lifecycle is a storage.Lifecycle over an API.
type Lifecycle struct {
	api API
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle returns a storage.Lifecycle calling into api.
func NewLifecycle(api API) *Lifecycle {
	return &Lifecycle{api: api}
}

func (l *Lifecycle) CreateStorage(_ context.Context, id string, config, credentials, metadata []byte) error {
	if err := l.api.CreateStorage(id, string(config), string(credentials), metadata).Err(); err != nil {
		return fmt.Errorf("creating storage %s: %w", id, err)
	}
	return nil
}

func (l *Lifecycle) OpenStorage(_ context.Context, id string, config, credentials []byte) (storage.Storage, error) {
	h, code := l.api.OpenStorage(id, string(config), string(credentials))
	if err := code.Err(); err != nil {
		return nil, fmt.Errorf("opening storage %s: %w", id, err)
	}
	return &Store{api: l.api, handle: h}, nil
}

func (l *Lifecycle) DeleteStorage(_ context.Context, id string, config, credentials []byte) error {
	if err := l.api.DeleteStorage(id, string(config), string(credentials)).Err(); err != nil {
		return fmt.Errorf("deleting storage %s: %w", id, err)
	}
	return nil
}

// Store is an open storage handle.
type Store struct {
	api    API
	handle Handle

	mu     sync.Mutex
	closed bool
}

var _ storage.Storage = (*Store)(nil)

func call(op string, code ErrorCode) error {
	if err := code.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, typ, id []byte, opts storage.RecordOptions) (*storage.Record, error) {
	options, err := opts.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}
	rh, code := s.api.GetRecord(s.handle, typ, id, string(options))
	if err := call("get record", code); err != nil {
		return nil, err
	}
	defer s.api.FreeRecord(rh) //nolint:errcheck
	return readRecord(s.api, rh, opts)
}

// readRecord copies the fields selected by opts out of the record arena.
func readRecord(api API, rh Handle, opts storage.RecordOptions) (*storage.Record, error) {
	id, code := api.GetRecordID(rh)
	if err := call("record id", code); err != nil {
		return nil, err
	}
	r := &storage.Record{ID: util.CopyBytes(id)}
	if opts.RetrieveType {
		typ, code := api.GetRecordType(rh)
		if err := call("record type", code); err != nil {
			return nil, err
		}
		r.Type = util.CopyBytes(typ)
	}
	if opts.RetrieveValue {
		data, key, code := api.GetRecordValue(rh)
		if err := call("record value", code); err != nil {
			return nil, err
		}
		r.Value = &storage.EncryptedValue{Data: util.CopyBytes(data), Key: util.CopyBytes(key)}
	}
	if opts.RetrieveTags {
		encoded, code := api.GetRecordTags(rh)
		if err := call("record tags", code); err != nil {
			return nil, err
		}
		tags, err := storage.DecodeTags([]byte(encoded))
		if err != nil {
			return nil, err
		}
		r.Tags = tags
	}
	return r, nil
}

// encodeTags validates before encoding since the wire form cannot carry
// duplicate names.
func encodeTags(tags []storage.Tag) ([]byte, error) {
	if err := storage.ValidateTags(tags); err != nil {
		return nil, err
	}
	return storage.EncodeTags(tags)
}

func (s *Store) Add(_ context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	return call("add record", s.api.AddRecord(s.handle, typ, id, value.Data, value.Key, string(encoded)))
}

func (s *Store) Update(_ context.Context, typ, id []byte, value storage.EncryptedValue) error {
	return call("update record", s.api.UpdateRecordValue(s.handle, typ, id, value.Data, value.Key))
}

func (s *Store) AddTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	return call("add record tags", s.api.AddRecordTags(s.handle, typ, id, string(encoded)))
}

func (s *Store) UpdateTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	return call("update record tags", s.api.UpdateRecordTags(s.handle, typ, id, string(encoded)))
}

func (s *Store) DeleteTags(_ context.Context, typ, id []byte, names []storage.TagName) error {
	if err := storage.ValidateTagNames(names); err != nil {
		return err
	}
	encoded, err := storage.EncodeTagNames(names)
	if err != nil {
		return err
	}
	return call("delete record tags", s.api.DeleteRecordTags(s.handle, typ, id, string(encoded)))
}

func (s *Store) Delete(_ context.Context, typ, id []byte) error {
	return call("delete record", s.api.DeleteRecord(s.handle, typ, id))
}

func (s *Store) GetStorageMetadata(context.Context) ([]byte, error) {
	md, mh, code := s.api.GetStorageMetadata(s.handle)
	if err := call("get metadata", code); err != nil {
		return nil, err
	}
	out := util.CopyBytes(md)
	if err := call("free metadata", s.api.FreeStorageMetadata(mh)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetStorageMetadata(_ context.Context, metadata []byte) error {
	return call("set metadata", s.api.SetStorageMetadata(s.handle, metadata))
}

func (s *Store) GetAll(context.Context) (storage.Iterator, error) {
	srh, code := s.api.SearchAllRecords(s.handle)
	if err := call("search all", code); err != nil {
		return nil, err
	}
	return s.iterator(srh, storage.FullRecordOptions())
}

func (s *Store) Search(_ context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (storage.Iterator, error) {
	if query == nil {
		query = wql.All()
	}
	encoded, err := wql.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}
	options, err := opts.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}
	srh, code := s.api.SearchRecords(s.handle, typ, string(encoded), string(options))
	if err := call("search", code); err != nil {
		return nil, err
	}
	return s.iterator(srh, opts.RecordOptions())
}

func (s *Store) iterator(srh Handle, opts storage.RecordOptions) (storage.Iterator, error) {
	n, code := s.api.GetSearchTotalCount(srh)
	if err := call("search count", code); err != nil {
		s.api.FreeSearch(srh) //nolint:errcheck
		return nil, err
	}
	it := &Iterator{api: s.api, handle: srh, opts: opts}
	if n >= 0 {
		total := int(n)
		it.total = &total
	}
	return it, nil
}

// Close releases the storage handle. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return call("close storage", s.api.CloseStorage(s.handle))
}

// Iterator drains a search handle. The handle is freed on exhaustion or Close.
type Iterator struct {
	api    API
	opts   storage.RecordOptions
	total  *int
	mu     sync.Mutex
	handle Handle
}

var _ storage.Iterator = (*Iterator)(nil)

func (it *Iterator) Next(ctx context.Context) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.handle == NoHandle {
		return nil, nil
	}
	rh, code := it.api.FetchSearchNextRecord(it.handle)
	if err := call("fetch next record", code); err != nil {
		return nil, err
	}
	if rh == NoHandle {
		return nil, it.release()
	}
	defer it.api.FreeRecord(rh) //nolint:errcheck
	return readRecord(it.api, rh, it.opts)
}

func (it *Iterator) TotalCount() (int, bool) {
	if it.total == nil {
		return 0, false
	}
	return *it.total, true
}

func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.release()
}

func (it *Iterator) release() error {
	if it.handle == NoHandle {
		return nil
	}
	h := it.handle
	it.handle = NoHandle
	return call("free search", it.api.FreeSearch(h))
}
