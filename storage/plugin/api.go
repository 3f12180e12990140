// Package plugin is the handle-indexed boundary to externally implemented
// storage backends.
//
// Nothing but primitives, strings, byte slices and integer handles crosses the
// API: tags, tag names, queries and options travel as JSON in their wire forms,
// and open storages, searches, fetched records and metadata blobs live in
// arenas on the backend side until explicitly freed. Host serves the API from
// any storage.Lifecycle; NewLifecycle turns an API back into a
// storage.Lifecycle.
package plugin

// Handle refers to a resource held in one of the backend's arenas. The zero
// handle never refers to anything.
type Handle int32

// NoHandle is the zero handle, returned by FetchSearchNextRecord at the end of
// a search.
const NoHandle Handle = 0

// API is the set of calls a pluggable backend exposes.
type API interface {
	CreateStorage(id, config, credentials string, metadata []byte) ErrorCode
	OpenStorage(id, config, credentials string) (Handle, ErrorCode)
	CloseStorage(storage Handle) ErrorCode
	DeleteStorage(id, config, credentials string) ErrorCode

	// tags is the tag wire encoding.
	AddRecord(storage Handle, typ, id, value, key []byte, tags string) ErrorCode
	UpdateRecordValue(storage Handle, typ, id, value, key []byte) ErrorCode
	AddRecordTags(storage Handle, typ, id []byte, tags string) ErrorCode
	UpdateRecordTags(storage Handle, typ, id []byte, tags string) ErrorCode
	// names is the tag name wire encoding.
	DeleteRecordTags(storage Handle, typ, id []byte, names string) ErrorCode
	DeleteRecord(storage Handle, typ, id []byte) ErrorCode

	// GetRecord fetches one item into the record arena; options is the record
	// options JSON.
	GetRecord(storage Handle, typ, id []byte, options string) (Handle, ErrorCode)
	GetRecordID(record Handle) ([]byte, ErrorCode)
	// GetRecordType returns nil when the type was not requested.
	GetRecordType(record Handle) ([]byte, ErrorCode)
	// GetRecordValue returns nil slices when the value was not requested.
	GetRecordValue(record Handle) (value, key []byte, code ErrorCode)
	// GetRecordTags returns the tag wire encoding, or "" when tags were not
	// requested.
	GetRecordTags(record Handle) (string, ErrorCode)
	FreeRecord(record Handle) ErrorCode

	// GetStorageMetadata returns the blob and a handle keeping it alive until
	// FreeStorageMetadata.
	GetStorageMetadata(storage Handle) ([]byte, Handle, ErrorCode)
	SetStorageMetadata(storage Handle, metadata []byte) ErrorCode
	FreeStorageMetadata(metadata Handle) ErrorCode

	// SearchRecords materializes the matches of query (WQL wire form) into the
	// search arena; options is the search options JSON.
	SearchRecords(storage Handle, typ []byte, query, options string) (Handle, ErrorCode)
	// SearchAllRecords opens a search over every item with all fields.
	SearchAllRecords(storage Handle) (Handle, ErrorCode)
	// GetSearchTotalCount returns -1 when the count was not requested.
	GetSearchTotalCount(search Handle) (int64, ErrorCode)
	// FetchSearchNextRecord moves the next match into the record arena, or
	// returns NoHandle when the search is exhausted.
	FetchSearchNextRecord(search Handle) (Handle, ErrorCode)
	FreeSearch(search Handle) ErrorCode
}
