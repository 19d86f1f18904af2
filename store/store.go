// Package store is the durable keyed map the relay gateway persists its
// authorization records, providers and metadata in.
package store

import (
	gjson "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("store: key not found")
	ErrReadOnly = errors.New("store: write in read-only transaction")
	ErrConflict = errors.New("store: transaction conflict")
	ErrClosed   = errors.New("store: closed")
)

// Tx is a single transaction. Writes made inside Update become visible to other
// transactions all at once, or not at all when the callback returns an error.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every key with the prefix in ascending key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

type Store interface {
	View(fn func(tx Tx) error) error
	Update(fn func(tx Tx) error) error
	// Sync flushes pending writes to durable storage.
	Sync() error
	Close() error
}

// GetJSON decodes the record at key into v.
func GetJSON(tx Tx, key []byte, v any) error {
	raw, err := tx.Get(key)
	if err != nil {
		return err
	}
	return DecodeJSON(key, raw, v)
}

// DecodeJSON decodes a raw record read from key, typically inside Iterate.
func DecodeJSON(key, raw []byte, v any) error {
	if err := gjson.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "decoding record %s", key)
	}
	return nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(tx Tx, key []byte, v any) error {
	raw, err := gjson.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding record %s", key)
	}
	return tx.Set(key, raw)
}
