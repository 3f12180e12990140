package storage

import (
	"context"
	"fmt"
)

// Copy migrates every record and the metadata blob of src into dst. dst must
// not already hold any of src's (type, id) pairs. It returns the number of
// records copied before any failure.
func Copy(ctx context.Context, dst, src Storage) (int, error) {
	metadata, err := src.GetStorageMetadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading source metadata: %w", err)
	}
	if err := dst.SetStorageMetadata(ctx, metadata); err != nil {
		return 0, fmt.Errorf("writing destination metadata: %w", err)
	}

	it, err := src.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing source records: %w", err)
	}
	defer it.Close() //nolint:errcheck

	n := 0
	for {
		r, err := it.Next(ctx)
		if err != nil {
			return n, fmt.Errorf("reading source record: %w", err)
		}
		if r == nil {
			return n, nil
		}
		if r.Value == nil || r.Type == nil {
			return n, fmt.Errorf("source record %s returned without type or value: %w", r.ID, ErrInvalidState)
		}
		if err := dst.Add(ctx, r.Type, r.ID, *r.Value, r.Tags); err != nil {
			return n, fmt.Errorf("copying %s/%s: %w", r.Type, r.ID, err)
		}
		n++
	}
}
