package duplicate

import (
	"context"
	"io"
)

// Index is the persistent store of entry hashes
type Index interface {
	// LookupExact returns records with the given exact hash, ignoring excludePath
	LookupExact(ctx context.Context, hash, excludePath string) ([]HashRecord, error)

	// LookupWithinDistance returns records whose perceptual hash is at most
	// maxDistance bits away, ignoring excludePath
	LookupWithinDistance(ctx context.Context, phash uint64, maxDistance int, excludePath string) ([]HashRecord, error)

	// DeleteAllForPath drops every record owned by path. Deleting a path with
	// no records is not an error.
	DeleteAllForPath(ctx context.Context, path string) error
}

// Hasher computes fingerprints for entry content
type Hasher interface {
	// HashContent returns the exact hash and, when the content is an image it
	// can decode, the perceptual hash and dimensions
	HashContent(ctx context.Context, ownerPath, entryName string, content []byte) (HashResult, error)

	// HashBytesExact returns only the exact hash
	HashBytesExact(ctx context.Context, content []byte) (string, error)
}

// ArchiveProcessor bulk-loads every entry of an archive into the index
type ArchiveProcessor interface {
	ProcessArchive(ctx context.Context, ownerPath string) error
}

// EntrySource is a forward-only sequence of archive entries.
// Next returns io.EOF once the archive is exhausted.
type EntrySource interface {
	Next() (name string, content io.ReadCloser, err error)
	Close() error
}

// SourceOpener opens a fresh entry source for an archive path
type SourceOpener func(path string) (EntrySource, error)
