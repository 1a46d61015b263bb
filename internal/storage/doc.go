// Package storage defines the key-value contract the session persister
// writes through, with an in-memory backend and a file backend that keeps
// one zstd-compressed blob per key.
package storage
