package common

import "errors"

var (
	ErrInvalidFormat      = errors.New("not a psarc archive")
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	ErrCorruptArchive     = errors.New("corrupt archive")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrCapacityExceeded   = errors.New("archive capacity exceeded")
	ErrDuplicateEntry     = errors.New("duplicate entry name")
	ErrWriterFinalized    = errors.New("writer already finalized")
	ErrArchiveLocked      = errors.New("archive locked by another process")
)
