package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the storage instance itself does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyExists indicates a storage instance with that id already exists.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrItemNotFound indicates the (type, id) item, or one of its named tags, does not exist.
	ErrItemNotFound = errors.New("storage: item not found")

	// ErrItemAlreadyExists indicates the (type, id) item, or one of the supplied tag names, already exists.
	ErrItemAlreadyExists = errors.New("storage: item already exists")

	// ErrInvalidStructure indicates malformed options, query, tags or config input.
	ErrInvalidStructure = errors.New("storage: invalid structure")

	// ErrInvalidState indicates an internal invariant was violated. It always signals a bug.
	ErrInvalidState = errors.New("storage: invalid state")

	// ErrIO indicates the backend failed.
	ErrIO = errors.New("storage: I/O failure")

	// ErrTypeAlreadyRegistered indicates a storage type name is already registered.
	ErrTypeAlreadyRegistered = errors.New("storage: type already registered")

	// ErrUnknownType indicates no storage type is registered under a name.
	ErrUnknownType = errors.New("storage: unknown type")
)

// WrapIO translates a backend error into ErrIO. Only the message of err is kept,
// so callers cannot depend on backend error types.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrIO, err)
}

// IsTyped reports whether err already carries one of the storage error kinds.
func IsTyped(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrAlreadyExists, ErrItemNotFound, ErrItemAlreadyExists,
		ErrInvalidStructure, ErrInvalidState, ErrIO,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Translate returns err unchanged when it already carries a storage error kind
// and wraps it as ErrIO otherwise.
func Translate(op string, err error) error {
	if err == nil || IsTyped(err) {
		return err
	}
	return WrapIO(op, err)
}

func itemError(kind error, typ, id []byte) error {
	return fmt.Errorf("%s/%s: %w", typ, id, kind)
}

// ItemNotFound returns ErrItemNotFound annotated with the item identity.
func ItemNotFound(typ, id []byte) error {
	return itemError(ErrItemNotFound, typ, id)
}

// ItemAlreadyExists returns ErrItemAlreadyExists annotated with the item identity.
func ItemAlreadyExists(typ, id []byte) error {
	return itemError(ErrItemAlreadyExists, typ, id)
}
