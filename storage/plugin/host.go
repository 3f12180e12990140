package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

// search is a materialized result set drained by FetchSearchNextRecord.
type search struct {
	mu      sync.Mutex
	records []*storage.Record
	opts    storage.RecordOptions
	total   *int
}

func (s *search) next() *storage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	r := s.records[0]
	s.records[0] = nil
	s.records = s.records[1:]
	return r
}

// fetched is an item in the record arena with the options it was read with.
type fetched struct {
	record *storage.Record
	opts   storage.RecordOptions
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the logger used by the host.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// Host serves the API from a storage.Lifecycle. Each arena is guarded by its
// own lock. Metadata blobs handed out by GetStorageMetadata live in memguard
// locked buffers until freed.
type Host struct {
	lifecycle storage.Lifecycle
	logger    *slog.Logger

	storages *arena[storage.Storage]
	searches *arena[*search]
	records  *arena[*fetched]
	metadata *arena[*memguard.LockedBuffer]
}

var _ API = (*Host)(nil)

// NewHost returns a Host with empty arenas.
func NewHost(lc storage.Lifecycle, opts ...HostOption) *Host {
	h := &Host{
		lifecycle: lc,
		storages:  newArena[storage.Storage](),
		searches:  newArena[*search](),
		records:   newArena[*fetched](),
		metadata:  newArena[*memguard.LockedBuffer](),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "storage/plugin")
	return h
}

// Live reports the number of live handles in each arena.
func (h *Host) Live() (storages, searches, records, metadata int) {
	return h.storages.len(), h.searches.len(), h.records.len(), h.metadata.len()
}

func (h *Host) fail(op string, err error) ErrorCode {
	code := CodeOf(err)
	if code == IOError || code == InvalidState {
		h.logger.Warn("plugin call failed", slog.String("op", op), slog.String("error", err.Error()))
	}
	return code
}

func optional(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func (h *Host) CreateStorage(id, config, credentials string, metadata []byte) ErrorCode {
	err := h.lifecycle.CreateStorage(context.Background(), id, optional(config), optional(credentials), metadata)
	return h.fail("create storage", err)
}

func (h *Host) OpenStorage(id, config, credentials string) (Handle, ErrorCode) {
	s, err := h.lifecycle.OpenStorage(context.Background(), id, optional(config), optional(credentials))
	if err != nil {
		return NoHandle, h.fail("open storage", err)
	}
	return h.storages.insert(s), Success
}

func (h *Host) CloseStorage(sh Handle) ErrorCode {
	s, ok := h.storages.remove(sh)
	if !ok {
		return InvalidHandle
	}
	return h.fail("close storage", s.Close())
}

func (h *Host) DeleteStorage(id, config, credentials string) ErrorCode {
	err := h.lifecycle.DeleteStorage(context.Background(), id, optional(config), optional(credentials))
	return h.fail("delete storage", err)
}

// withStorage resolves sh and runs fn against it.
func (h *Host) withStorage(op string, sh Handle, fn func(ctx context.Context, s storage.Storage) error) ErrorCode {
	s, ok := h.storages.get(sh)
	if !ok {
		return InvalidHandle
	}
	return h.fail(op, fn(context.Background(), s))
}

func (h *Host) AddRecord(sh Handle, typ, id, value, key []byte, tags string) ErrorCode {
	return h.withStorage("add record", sh, func(ctx context.Context, s storage.Storage) error {
		decoded, err := storage.DecodeTags([]byte(tags))
		if err != nil {
			return err
		}
		return s.Add(ctx, typ, id, storage.EncryptedValue{Data: value, Key: key}, decoded)
	})
}

func (h *Host) UpdateRecordValue(sh Handle, typ, id, value, key []byte) ErrorCode {
	return h.withStorage("update record", sh, func(ctx context.Context, s storage.Storage) error {
		return s.Update(ctx, typ, id, storage.EncryptedValue{Data: value, Key: key})
	})
}

func (h *Host) AddRecordTags(sh Handle, typ, id []byte, tags string) ErrorCode {
	return h.withStorage("add record tags", sh, func(ctx context.Context, s storage.Storage) error {
		decoded, err := storage.DecodeTags([]byte(tags))
		if err != nil {
			return err
		}
		return s.AddTags(ctx, typ, id, decoded)
	})
}

func (h *Host) UpdateRecordTags(sh Handle, typ, id []byte, tags string) ErrorCode {
	return h.withStorage("update record tags", sh, func(ctx context.Context, s storage.Storage) error {
		decoded, err := storage.DecodeTags([]byte(tags))
		if err != nil {
			return err
		}
		return s.UpdateTags(ctx, typ, id, decoded)
	})
}

func (h *Host) DeleteRecordTags(sh Handle, typ, id []byte, names string) ErrorCode {
	return h.withStorage("delete record tags", sh, func(ctx context.Context, s storage.Storage) error {
		decoded, err := storage.DecodeTagNames([]byte(names))
		if err != nil {
			return err
		}
		return s.DeleteTags(ctx, typ, id, decoded)
	})
}

func (h *Host) DeleteRecord(sh Handle, typ, id []byte) ErrorCode {
	return h.withStorage("delete record", sh, func(ctx context.Context, s storage.Storage) error {
		return s.Delete(ctx, typ, id)
	})
}

func (h *Host) GetRecord(sh Handle, typ, id []byte, options string) (Handle, ErrorCode) {
	var rh Handle
	code := h.withStorage("get record", sh, func(ctx context.Context, s storage.Storage) error {
		opts, err := storage.ParseRecordOptions([]byte(options))
		if err != nil {
			return err
		}
		r, err := s.Get(ctx, typ, id, opts)
		if err != nil {
			return err
		}
		rh = h.records.insert(&fetched{record: r, opts: opts})
		return nil
	})
	return rh, code
}

func (h *Host) GetRecordID(rh Handle) ([]byte, ErrorCode) {
	f, ok := h.records.get(rh)
	if !ok {
		return nil, InvalidHandle
	}
	return f.record.ID, Success
}

func (h *Host) GetRecordType(rh Handle) ([]byte, ErrorCode) {
	f, ok := h.records.get(rh)
	if !ok {
		return nil, InvalidHandle
	}
	if !f.opts.RetrieveType {
		return nil, Success
	}
	return util.CopyBytes(f.record.Type), Success
}

func (h *Host) GetRecordValue(rh Handle) ([]byte, []byte, ErrorCode) {
	f, ok := h.records.get(rh)
	if !ok {
		return nil, nil, InvalidHandle
	}
	if !f.opts.RetrieveValue || f.record.Value == nil {
		return nil, nil, Success
	}
	return f.record.Value.Data, f.record.Value.Key, Success
}

func (h *Host) GetRecordTags(rh Handle) (string, ErrorCode) {
	f, ok := h.records.get(rh)
	if !ok {
		return "", InvalidHandle
	}
	if !f.opts.RetrieveTags {
		return "", Success
	}
	data, err := storage.EncodeTags(f.record.Tags)
	if err != nil {
		return "", h.fail("get record tags", err)
	}
	return string(data), Success
}

func (h *Host) FreeRecord(rh Handle) ErrorCode {
	if _, ok := h.records.remove(rh); !ok {
		return InvalidHandle
	}
	return Success
}

// GetStorageMetadata returns the metadata blob from locked memory. The slice
// is valid until FreeStorageMetadata(mh), which wipes it.
func (h *Host) GetStorageMetadata(sh Handle) ([]byte, Handle, ErrorCode) {
	var (
		md []byte
		mh Handle
	)
	code := h.withStorage("get metadata", sh, func(ctx context.Context, s storage.Storage) error {
		blob, err := s.GetStorageMetadata(ctx)
		if err != nil {
			return err
		}
		// The copy is wiped as it moves into the buffer.
		buf := memguard.NewBufferFromBytes(util.CopyBytes(blob))
		md = buf.Bytes()
		if md == nil {
			md = []byte{}
		}
		mh = h.metadata.insert(buf)
		return nil
	})
	return md, mh, code
}

func (h *Host) SetStorageMetadata(sh Handle, metadata []byte) ErrorCode {
	return h.withStorage("set metadata", sh, func(ctx context.Context, s storage.Storage) error {
		return s.SetStorageMetadata(ctx, metadata)
	})
}

func (h *Host) FreeStorageMetadata(mh Handle) ErrorCode {
	buf, ok := h.metadata.remove(mh)
	if !ok {
		return InvalidHandle
	}
	buf.Destroy()
	return Success
}

func (h *Host) openSearch(op string, sh Handle, opts storage.RecordOptions, fn func(ctx context.Context, s storage.Storage) (storage.Iterator, error)) (Handle, ErrorCode) {
	var srh Handle
	code := h.withStorage(op, sh, func(ctx context.Context, s storage.Storage) error {
		it, err := fn(ctx, s)
		if err != nil {
			return err
		}
		srch := &search{opts: opts}
		if n, ok := it.TotalCount(); ok {
			srch.total = &n
		}
		if srch.records, err = storage.Collect(ctx, it); err != nil {
			return err
		}
		srh = h.searches.insert(srch)
		return nil
	})
	return srh, code
}

func (h *Host) SearchRecords(sh Handle, typ []byte, query, options string) (Handle, ErrorCode) {
	opts, err := storage.ParseSearchOptions([]byte(options))
	if err != nil {
		return NoHandle, h.fail("search", err)
	}
	q, err := wql.ParseEncoded([]byte(query))
	if err != nil {
		return NoHandle, h.fail("search", fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err))
	}
	return h.openSearch("search", sh, opts.RecordOptions(), func(ctx context.Context, s storage.Storage) (storage.Iterator, error) {
		return s.Search(ctx, typ, q, opts)
	})
}

func (h *Host) SearchAllRecords(sh Handle) (Handle, ErrorCode) {
	return h.openSearch("search all", sh, storage.FullRecordOptions(), func(ctx context.Context, s storage.Storage) (storage.Iterator, error) {
		return s.GetAll(ctx)
	})
}

func (h *Host) GetSearchTotalCount(srh Handle) (int64, ErrorCode) {
	srch, ok := h.searches.get(srh)
	if !ok {
		return 0, InvalidHandle
	}
	if srch.total == nil {
		return -1, Success
	}
	return int64(*srch.total), Success
}

func (h *Host) FetchSearchNextRecord(srh Handle) (Handle, ErrorCode) {
	srch, ok := h.searches.get(srh)
	if !ok {
		return NoHandle, InvalidHandle
	}
	r := srch.next()
	if r == nil {
		return NoHandle, Success
	}
	return h.records.insert(&fetched{record: r, opts: srch.opts}), Success
}

func (h *Host) FreeSearch(srh Handle) ErrorCode {
	if _, ok := h.searches.remove(srh); !ok {
		return InvalidHandle
	}
	return Success
}
