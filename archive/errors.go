package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a reference has no backing file.
	ErrNotFound = errors.New("archive not found")
	// ErrCorrupt is matched by CorruptArchiveError.
	ErrCorrupt = errors.New("archive corrupt")
)

// CollectionError reports that history retrieval for a channel failed before completion.
type CollectionError struct {
	ChannelID string
	Err       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect channel %s: %v", e.ChannelID, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// PersistenceError reports a storage-layer failure while writing or deleting an archive.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptArchiveError reports a file that exists but is not a canonical record.
type CorruptArchiveError struct {
	Ref Ref
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("archive %s is corrupt: %v", e.Ref, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCorrupt) match.
func (e *CorruptArchiveError) Is(target error) bool { return target == ErrCorrupt }

// ConfigError reports a rejected configuration value. The previous value stays in effect.
type ConfigError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Key, e.Value, e.Reason)
}

// ErrorClass buckets errors for HTTP status mapping and metric labels.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassCollection
	ClassPersistence
	ClassNotFound
	ClassCorrupt
	ClassConfig
	ClassUnknown
)

// String returns the label used in logs and metrics.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCollection:
		return "collection"
	case ClassPersistence:
		return "persistence"
	case ClassNotFound:
		return "not_found"
	case ClassCorrupt:
		return "corrupt"
	case ClassConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Classify maps err onto the taxonomy. Wrapped errors are unwrapped.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var (
		collErr *CollectionError
		persErr *PersistenceError
		cfgErr  *ConfigError
	)
	switch {
	case errors.As(err, &collErr):
		return ClassCollection
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrCorrupt):
		return ClassCorrupt
	case errors.As(err, &persErr):
		return ClassPersistence
	case errors.As(err, &cfgErr):
		return ClassConfig
	default:
		return ClassUnknown
	}
}
