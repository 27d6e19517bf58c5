// Package blobstore abstracts where sealed file envelopes live. The server
// never sees plaintext, so a backend only ever handles opaque ciphertext.
package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists sealed content under an opaque storage key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// RandomStorageKey returns a date-partitioned key for a new blob.
func RandomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("blobs/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}
