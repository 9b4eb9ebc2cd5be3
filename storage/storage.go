// Package storage provides the ephemeral blob storage abstraction used by
// the credential store. Values are opaque ciphertexts; the storage layer
// never sees plaintext or key material.
package storage

import "errors"

// ErrNotFound is returned when no value exists for the requested key.
var ErrNotFound = errors.New("not found")

// Store defines the interface for encrypted blob storage.
//
// PutAll replaces the given keys in a single atomic batch: either every
// entry is written or none is. DeleteAll removes every stored key.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	PutAll(entries map[string][]byte) error
	Delete(key string) error
	DeleteAll() error
}
