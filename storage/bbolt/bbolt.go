// Package bbolt provides a BBolt-backed storage backend, one database file per
// storage instance.
//
// Items of each type live in a nested bucket under the items root bucket, keyed
// by id; the value is the JSON encoded item including its wire-encoded tags.
// Searches scan the type's bucket and evaluate the query in memory.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/tagvault/internal/util"
	"github.com/jmcleod/tagvault/storage"
	"github.com/jmcleod/tagvault/wql"
)

var (
	itemsBucket    = []byte("items")
	metadataBucket = []byte("__metadata")
	metadataKey    = []byte("metadata")
)

// Config is the JSON configuration of the bbolt backend.
type Config struct {
	// Path is the directory holding one <id>.db file per instance.
	Path string `json:"path"`
}

// ParseConfig decodes config. Path is required.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("bbolt config: %w: %v", storage.ErrInvalidStructure, err)
		}
	}
	if cfg.Path == "" {
		return Config{}, fmt.Errorf("bbolt config: path is required: %w", storage.ErrInvalidStructure)
	}
	return cfg, nil
}

func (c Config) file(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00") {
		return "", fmt.Errorf("storage id %q: %w", id, storage.ErrInvalidStructure)
	}
	return filepath.Join(c.Path, id+".db"), nil
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger used by the lifecycle.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// WithOptions sets the options used to open database files.
func WithOptions(opts *bbolt.Options) Option {
	return func(l *Lifecycle) {
		l.options = opts
	}
}

// Lifecycle creates, opens and deletes bbolt storage instances.
type Lifecycle struct {
	logger  *slog.Logger
	options *bbolt.Options
}

var _ storage.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle returns the bbolt backend.
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{options: &bbolt.Options{Timeout: 5 * time.Second}}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "storage/bbolt")
	return l
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// resolve parses config and returns the instance file and whether it exists.
func (l *Lifecycle) resolve(op, id string, config []byte) (string, bool, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return "", false, err
	}
	path, err := cfg.file(id)
	if err != nil {
		return "", false, err
	}
	ok, err := fileExists(path)
	if err != nil {
		return "", false, storage.WrapIO(op, err)
	}
	return path, ok, nil
}

func (l *Lifecycle) CreateStorage(_ context.Context, id string, config, _, metadata []byte) error {
	path, ok, err := l.resolve("create storage", id, config)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", id, storage.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return storage.WrapIO("create storage", err)
	}

	db, err := bbolt.Open(path, 0o600, l.options)
	if err != nil {
		return storage.WrapIO("create storage", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(itemsBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucketIfNotExists(metadataBucket)
		if err != nil {
			return err
		}
		return b.Put(metadataKey, util.CopyBytes(metadata))
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return storage.WrapIO("create storage", err)
	}
	l.logger.Debug("storage created", slog.String("id", id), slog.String("path", path))
	return nil
}

func (l *Lifecycle) OpenStorage(_ context.Context, id string, config, _ []byte) (storage.Storage, error) {
	path, ok, err := l.resolve("open storage", id, config)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	db, err := bbolt.Open(path, 0o600, l.options)
	if err != nil {
		return nil, storage.WrapIO("open storage", err)
	}
	l.logger.Debug("storage opened", slog.String("id", id))
	return NewStore(db), nil
}

func (l *Lifecycle) DeleteStorage(_ context.Context, id string, config, _ []byte) error {
	path, ok, err := l.resolve("delete storage", id, config)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		return storage.WrapIO("delete storage", err)
	}
	l.logger.Debug("storage deleted", slog.String("id", id))
	return nil
}

// Store is an open bbolt storage instance.
type Store struct {
	db *bbolt.DB
}

var _ storage.Storage = (*Store)(nil)

// NewStore wraps an open database created by Lifecycle.CreateStorage.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return storage.WrapIO("close", err)
	}
	return nil
}

type itemJSON struct {
	Seq  uint64          `json:"seq"`
	Data []byte          `json:"data"`
	Key  []byte          `json:"key"`
	Tags json.RawMessage `json:"tags"`
}

type item struct {
	seq   uint64
	value storage.EncryptedValue
	tags  []storage.Tag
}

func decodeItem(data []byte) (*item, error) {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding item: %w: %v", storage.ErrInvalidState, err)
	}
	tags, err := storage.DecodeTags(raw.Tags)
	if err != nil {
		return nil, fmt.Errorf("decoding item tags: %w: %v", storage.ErrInvalidState, err)
	}
	return &item{
		seq:   raw.Seq,
		value: storage.EncryptedValue{Data: util.CopyBytes(raw.Data), Key: util.CopyBytes(raw.Key)},
		tags:  tags,
	}, nil
}

func (it *item) encode() ([]byte, error) {
	tags, err := storage.EncodeTags(it.tags)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemJSON{Seq: it.seq, Data: it.value.Data, Key: it.value.Key, Tags: tags})
}

func (it *item) tagIndex(name storage.TagName) int {
	for i, t := range it.tags {
		if t.Name.Equal(name) {
			return i
		}
	}
	return -1
}

func (it *item) record(typ, id []byte, opts storage.RecordOptions) *storage.Record {
	return (&storage.Record{ID: id, Type: typ, Value: &it.value, Tags: it.tags}).Shape(opts)
}

// Bucket and key names carry a one-byte prefix; bbolt rejects empty names.
func typeKey(typ []byte) []byte { return append([]byte{'t'}, typ...) }
func idKey(id []byte) []byte    { return append([]byte{'i'}, id...) }

func itemsRoot(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(itemsBucket)
	if b == nil {
		return nil, fmt.Errorf("items bucket missing: %w", storage.ErrInvalidState)
	}
	return b, nil
}

func loadItem(tx *bbolt.Tx, typ, id []byte) (*item, error) {
	root, err := itemsRoot(tx)
	if err != nil {
		return nil, err
	}
	b := root.Bucket(typeKey(typ))
	if b == nil {
		return nil, storage.ItemNotFound(typ, id)
	}
	data := b.Get(idKey(id))
	if data == nil {
		return nil, storage.ItemNotFound(typ, id)
	}
	return decodeItem(data)
}

func storeItem(tx *bbolt.Tx, typ, id []byte, it *item) error {
	root, err := itemsRoot(tx)
	if err != nil {
		return err
	}
	b, err := root.CreateBucketIfNotExists(typeKey(typ))
	if err != nil {
		return err
	}
	data, err := it.encode()
	if err != nil {
		return err
	}
	return b.Put(idKey(id), data)
}

func (s *Store) update(op string, fn func(tx *bbolt.Tx) error) error {
	return storage.Translate(op, s.db.Update(fn))
}

// modify loads an item, applies fn and writes it back in one transaction.
func (s *Store) modify(op string, typ, id []byte, fn func(it *item) error) error {
	return s.update(op, func(tx *bbolt.Tx) error {
		it, err := loadItem(tx, typ, id)
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
		return storeItem(tx, typ, id, it)
	})
}

func (s *Store) Get(_ context.Context, typ, id []byte, opts storage.RecordOptions) (*storage.Record, error) {
	var r *storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		it, err := loadItem(tx, typ, id)
		if err != nil {
			return err
		}
		r = it.record(typ, id, opts)
		return nil
	})
	if err != nil {
		return nil, storage.Translate("get", err)
	}
	return r, nil
}

func (s *Store) Add(_ context.Context, typ, id []byte, value storage.EncryptedValue, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.update("add", func(tx *bbolt.Tx) error {
		root, err := itemsRoot(tx)
		if err != nil {
			return err
		}
		if b := root.Bucket(typeKey(typ)); b != nil && b.Get(idKey(id)) != nil {
			return storage.ItemAlreadyExists(typ, id)
		}
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		it := &item{seq: seq, value: value, tags: tags}
		if it.tags == nil {
			it.tags = []storage.Tag{}
		}
		return storeItem(tx, typ, id, it)
	})
}

func (s *Store) Update(_ context.Context, typ, id []byte, value storage.EncryptedValue) error {
	return s.modify("update", typ, id, func(it *item) error {
		it.value = value
		return nil
	})
}

func (s *Store) AddTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.modify("add tags", typ, id, func(it *item) error {
		for _, t := range tags {
			if it.tagIndex(t.Name) >= 0 {
				return fmt.Errorf("%s/%s tag %s: %w", typ, id, t.Name, storage.ErrItemAlreadyExists)
			}
		}
		it.tags = append(it.tags, tags...)
		return nil
	})
}

func (s *Store) UpdateTags(_ context.Context, typ, id []byte, tags []storage.Tag) error {
	if err := storage.ValidateTags(tags); err != nil {
		return err
	}
	return s.modify("update tags", typ, id, func(it *item) error {
		for _, t := range tags {
			i := it.tagIndex(t.Name)
			if i < 0 {
				return fmt.Errorf("%s/%s tag %s: %w", typ, id, t.Name, storage.ErrItemNotFound)
			}
			it.tags[i] = t
		}
		return nil
	})
}

func (s *Store) DeleteTags(_ context.Context, typ, id []byte, names []storage.TagName) error {
	if err := storage.ValidateTagNames(names); err != nil {
		return err
	}
	return s.modify("delete tags", typ, id, func(it *item) error {
		for _, n := range names {
			i := it.tagIndex(n)
			if i < 0 {
				return fmt.Errorf("%s/%s tag %s: %w", typ, id, n, storage.ErrItemNotFound)
			}
			it.tags = append(it.tags[:i], it.tags[i+1:]...)
		}
		return nil
	})
}

func (s *Store) Delete(_ context.Context, typ, id []byte) error {
	return s.update("delete", func(tx *bbolt.Tx) error {
		root, err := itemsRoot(tx)
		if err != nil {
			return err
		}
		b := root.Bucket(typeKey(typ))
		if b == nil || b.Get(idKey(id)) == nil {
			return storage.ItemNotFound(typ, id)
		}
		return b.Delete(idKey(id))
	})
}

func (s *Store) GetStorageMetadata(context.Context) ([]byte, error) {
	var md []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		if b == nil {
			return fmt.Errorf("metadata bucket missing: %w", storage.ErrInvalidState)
		}
		md = util.CopyBytes(b.Get(metadataKey))
		return nil
	})
	if err != nil {
		return nil, storage.Translate("get metadata", err)
	}
	return md, nil
}

func (s *Store) SetStorageMetadata(_ context.Context, metadata []byte) error {
	return s.update("set metadata", func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		if b == nil {
			return fmt.Errorf("metadata bucket missing: %w", storage.ErrInvalidState)
		}
		return b.Put(metadataKey, util.CopyBytes(metadata))
	})
}

type entry struct {
	typ, id []byte
	*item
}

// scan collects the items of the typ bucket, or of every bucket when all is
// set, in insertion order.
func scan(tx *bbolt.Tx, typ []byte, all bool, keep func(*item) bool) ([]entry, error) {
	root, err := itemsRoot(tx)
	if err != nil {
		return nil, err
	}
	var entries []entry
	visit := func(tname []byte, b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			it, err := decodeItem(v)
			if err != nil {
				return err
			}
			if keep(it) {
				entries = append(entries, entry{typ: util.CopyBytes(tname[1:]), id: util.CopyBytes(k[1:]), item: it})
			}
			return nil
		})
	}
	if !all {
		if b := root.Bucket(typeKey(typ)); b != nil {
			if err := visit(typeKey(typ), b); err != nil {
				return nil, err
			}
		}
	} else {
		err := root.ForEachBucket(func(name []byte) error {
			return visit(name, root.Bucket(name))
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries, nil
}

func (s *Store) GetAll(context.Context) (storage.Iterator, error) {
	var records []*storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		entries, err := scan(tx, nil, true, func(*item) bool { return true })
		if err != nil {
			return err
		}
		for _, e := range entries {
			records = append(records, e.record(e.typ, e.id, storage.FullRecordOptions()))
		}
		return nil
	})
	if err != nil {
		return nil, storage.Translate("get all", err)
	}
	return storage.NewSliceIterator(records, nil), nil
}

func (s *Store) Search(_ context.Context, typ []byte, query wql.Query, opts storage.SearchOptions) (storage.Iterator, error) {
	if err := wql.Validate(query); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidStructure, err)
	}
	var records []*storage.Record
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		entries, err := scan(tx, typ, false, func(it *item) bool {
			return query == nil || wql.Match(query, storage.TagIndex(it.tags))
		})
		if err != nil {
			return err
		}
		n = len(entries)
		if !opts.RetrieveRecords {
			return nil
		}
		for _, e := range entries {
			records = append(records, e.record(e.typ, e.id, opts.RecordOptions()))
		}
		return nil
	})
	if err != nil {
		return nil, storage.Translate("search", err)
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
