// Package kv is the ordered key-value store the chain, the state and the
// restoration database are kept in.
package kv

import "errors"

var ErrNotFound = errors.New("kv: key not found")

type Reader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Batch collects writes that are applied atomically by Write.
type Batch interface {
	Writer
	ValueSize() int
	Write() error
	Reset()
}

// Iterator walks keys in ascending byte order. Key and Value are only valid
// until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

type Store interface {
	Reader
	Writer
	NewBatch() Batch
	// NewIterator iterates keys having prefix, starting at prefix+start.
	NewIterator(prefix, start []byte) Iterator
	Close() error
}

// Successor returns the smallest key greater than every key having prefix,
// or nil when every key above prefix has it.
func Successor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			next := make([]byte, i+1)
			copy(next, prefix)
			next[i]++
			return next
		}
	}
	return nil
}

// Concat joins key parts into a fresh slice.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
