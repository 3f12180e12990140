package plugin

import (
	"errors"
	"fmt"

	"github.com/jmcleod/tagvault/storage"
)

// ErrorCode is the result of every API call.
type ErrorCode int32

const (
	Success ErrorCode = iota
	InvalidStructure
	InvalidState
	InvalidHandle
	IOError
	NotFound
	AlreadyExists
	ItemNotFound
	ItemAlreadyExists
)

// ErrInvalidHandle is reported for unknown or already freed handles.
var ErrInvalidHandle = errors.New("plugin: invalid handle")

var codeNames = map[ErrorCode]string{
	Success:           "Success",
	InvalidStructure:  "InvalidStructure",
	InvalidState:      "InvalidState",
	InvalidHandle:     "InvalidHandle",
	IOError:           "IOError",
	NotFound:          "NotFound",
	AlreadyExists:     "AlreadyExists",
	ItemNotFound:      "ItemNotFound",
	ItemAlreadyExists: "ItemAlreadyExists",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// CodeOf maps an error onto the code that crosses the boundary. Errors
// without a storage kind are I/O failures.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrInvalidHandle):
		return InvalidHandle
	case errors.Is(err, storage.ErrInvalidStructure):
		return InvalidStructure
	case errors.Is(err, storage.ErrInvalidState):
		return InvalidState
	case errors.Is(err, storage.ErrNotFound):
		return NotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return AlreadyExists
	case errors.Is(err, storage.ErrItemNotFound):
		return ItemNotFound
	case errors.Is(err, storage.ErrItemAlreadyExists):
		return ItemAlreadyExists
	default:
		return IOError
	}
}

// Err returns the storage error for c, or nil for Success. An invalid handle
// is a broken invariant on the calling side and reports ErrInvalidState.
func (c ErrorCode) Err() error {
	switch c {
	case Success:
		return nil
	case InvalidStructure:
		return storage.ErrInvalidStructure
	case InvalidState:
		return storage.ErrInvalidState
	case InvalidHandle:
		return fmt.Errorf("%w: %w", storage.ErrInvalidState, ErrInvalidHandle)
	case NotFound:
		return storage.ErrNotFound
	case AlreadyExists:
		return storage.ErrAlreadyExists
	case ItemNotFound:
		return storage.ErrItemNotFound
	case ItemAlreadyExists:
		return storage.ErrItemAlreadyExists
	default:
		return fmt.Errorf("%w: plugin returned %s", storage.ErrIO, c)
	}
}
