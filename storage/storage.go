// Package storage provides the storage abstraction layer for encrypted,
// tag-indexed wallet records.
//
// A Lifecycle creates, opens and deletes named storage instances. An open
// Storage persists items identified by (type, id): an EncryptedValue plus a set
// of encrypted and plaintext tags, searchable with WQL queries. Every backend
// reports failures with the sentinel errors in this package.
package storage

import (
	"context"

	"github.com/jmcleod/tagvault/wql"
)

// Storage is an open session on one storage instance. Implementations are safe
// for concurrent use.
type Storage interface {
	// Get returns the item, populated according to opts, or ErrItemNotFound.
	Get(ctx context.Context, typ, id []byte, opts RecordOptions) (*Record, error)

	// Add stores a new item with its tags in one transaction. It fails with
	// ErrItemAlreadyExists when (type, id) is taken.
	Add(ctx context.Context, typ, id []byte, value EncryptedValue, tags []Tag) error

	// Update replaces the value of an existing item.
	Update(ctx context.Context, typ, id []byte, value EncryptedValue) error

	// AddTags adds new tags to an item. Any name already present fails the whole
	// call with ErrItemAlreadyExists.
	AddTags(ctx context.Context, typ, id []byte, tags []Tag) error

	// UpdateTags replaces the values of existing tags. Any name not present fails
	// the whole call with ErrItemNotFound.
	UpdateTags(ctx context.Context, typ, id []byte, tags []Tag) error

	// DeleteTags removes the named tags. Any name not present fails the whole
	// call with ErrItemNotFound.
	DeleteTags(ctx context.Context, typ, id []byte, names []TagName) error

	// Delete removes an item and all its tags.
	Delete(ctx context.Context, typ, id []byte) error

	GetStorageMetadata(ctx context.Context) ([]byte, error)
	SetStorageMetadata(ctx context.Context, metadata []byte) error

	// GetAll iterates every item of every type with all fields populated.
	GetAll(ctx context.Context) (Iterator, error)

	// Search iterates the items of one type matching query.
	Search(ctx context.Context, typ []byte, query wql.Query, opts SearchOptions) (Iterator, error)

	Close() error
}

// Lifecycle creates, opens and deletes storage instances. config and
// credentials are backend-specific JSON documents and may be empty.
type Lifecycle interface {
	// CreateStorage provisions an empty instance holding metadata. It fails with
	// ErrAlreadyExists when id is taken.
	CreateStorage(ctx context.Context, id string, config, credentials, metadata []byte) error

	// OpenStorage opens a session on an existing instance, or fails with ErrNotFound.
	OpenStorage(ctx context.Context, id string, config, credentials []byte) (Storage, error)

	// DeleteStorage irreversibly destroys an instance, or fails with ErrNotFound.
	DeleteStorage(ctx context.Context, id string, config, credentials []byte) error
}

// Iterator is a forward-only, single-pass sequence of records.
type Iterator interface {
	// Next returns the next record, or nil when the sequence is exhausted.
	Next(ctx context.Context) (*Record, error)

	// TotalCount returns the number of matching items when it was requested.
	TotalCount() (int, bool)

	// Close releases the iterator's resources.
	Close() error
}
