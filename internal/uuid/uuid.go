// Package uuid generates random identifiers for items and storage instances.
package uuid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID in its canonical string form.
func New() string {
	return uuid.NewString()
}

// Compact returns a random UUID without dashes, safe for file names.
func Compact() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
