// Package store persists archives as canonical JSON files in a single data
// directory. The directory listing is the index: filenames carry the channel
// id and capture time, so there is no separate metadata to drift.
//
// Writes go to a hidden temp file in the same directory and are moved into
// place, so readers see either the previous complete file or the new one.
// Versioned archives are never overwritten.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/telemetry"
)

// maxNameAttempts bounds how far a versioned write walks forward past
// names that are already taken.
const maxNameAttempts = 60

// FileStore is the filesystem-backed archive store.
type FileStore struct {
	dir    string
	policy archive.Policy
	mirror Mirror
	logger *slog.Logger
	// removeFile deletes one archive file; os.Remove outside tests.
	removeFile func(name string) error
}

// Option customizes a FileStore.
type Option func(*FileStore)

// WithMirror copies every written archive to m (best effort).
func WithMirror(m Mirror) Option { return func(s *FileStore) { s.mirror = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *FileStore) { s.logger = l } }

// New creates dir if needed and returns a store using the given addressing policy.
func New(dir string, policy archive.Policy, opts ...Option) (*FileStore, error) {
	if policy == "" {
		policy = archive.PolicyVersioned
	}
	if policy != archive.PolicyVersioned && policy != archive.PolicyLatest {
		return nil, &archive.ConfigError{Key: "ARCHIVE_POLICY", Value: policy, Reason: "must be versioned or latest"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, policy: policy, logger: slog.Default(), removeFile: os.Remove}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "store"))
	return s, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

// Policy returns the addressing policy.
func (s *FileStore) Policy() archive.Policy { return s.policy }

// Write persists a and returns its reference.
func (s *FileStore) Write(ctx context.Context, a *archive.Archive) (archive.Ref, error) {
	ctx, span := telemetry.StartSpan(ctx, "store", "store.write", telemetry.ChannelAttr(a.ChannelID))
	defer span.End()

	if _, err := archive.FileName(s.policy, a.ChannelID, a.CreatedAt); err != nil {
		perr := &archive.PersistenceError{Op: "name", Path: a.ChannelID, Err: err}
		telemetry.RecordError(span, perr)
		return "", perr
	}
	data, err := archive.Encode(a)
	if err != nil {
		perr := &archive.PersistenceError{Op: "encode", Path: a.ChannelID, Err: err}
		telemetry.RecordError(span, perr)
		return "", perr
	}
	ref, err := s.writeAtomic(a, data)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.Inc(telemetry.ArchivesWritten)
	s.logger.Info("archive written",
		slog.String("ref", string(ref)),
		slog.String("channel_id", a.ChannelID),
		slog.Int("messages", len(a.Messages)),
		slog.Int("bytes", len(data)))

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, string(ref), data); err != nil {
			telemetry.Inc(telemetry.MirrorFailures)
			s.logger.Warn("mirror upload failed", slog.String("ref", string(ref)), slog.Any("err", err))
		}
	}
	telemetry.SetSpanSuccess(span)
	return ref, nil
}

// writeAtomic stages data in a temp file and publishes it under a's name.
// Latest names are replaced by rename. Versioned names are never replaced:
// the temp file is hard-linked into place, and a name already taken moves
// a.CreatedAt forward one second and tries again.
func (s *FileStore) writeAtomic(a *archive.Archive, data []byte) (archive.Ref, error) {
	tmp, err := os.CreateTemp(s.dir, "."+a.ChannelID+".*.tmp")
	if err != nil {
		return "", &archive.PersistenceError{Op: "create temp", Path: s.dir, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove temp file", slog.String("path", tmpName), slog.Any("err", rmErr))
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", &archive.PersistenceError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", &archive.PersistenceError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &archive.PersistenceError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", &archive.PersistenceError{Op: "chmod", Path: tmpName, Err: err}
	}

	for attempt := 0; ; attempt++ {
		ref, err := archive.FileName(s.policy, a.ChannelID, a.CreatedAt)
		if err != nil {
			return "", &archive.PersistenceError{Op: "name", Path: a.ChannelID, Err: err}
		}
		final := filepath.Join(s.dir, string(ref))
		if s.policy == archive.PolicyLatest {
			if err := os.Rename(tmpName, final); err != nil {
				return "", &archive.PersistenceError{Op: "rename", Path: final, Err: err}
			}
			return ref, nil
		}
		err = os.Link(tmpName, final)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxNameAttempts {
			return "", &archive.PersistenceError{Op: "link", Path: final, Err: err}
		}
		s.logger.Debug("archive name taken, advancing timestamp", slog.String("ref", string(ref)))
		a.CreatedAt = a.CreatedAt.Add(time.Second)
	}
}

// List scans the data directory and groups archive entries by channel id,
// oldest first. Names that do not parse as archives are skipped.
func (s *FileStore) List(ctx context.Context) (map[string][]archive.Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	out := make(map[string][]archive.Entry)
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		id, created, ok := archive.ParseFileName(d.Name())
		if !ok {
			continue
		}
		if created.IsZero() {
			info, err := d.Info()
			if err != nil {
				// removed between ReadDir and Info
				continue
			}
			created = info.ModTime().UTC().Truncate(time.Second)
		}
		out[id] = append(out[id], archive.Entry{Ref: archive.Ref(d.Name()), ChannelID: id, CreatedAt: created})
	}
	for id := range out {
		entries := out[id]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
				return entries[i].Ref < entries[j].Ref
			}
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		})
	}
	return out, nil
}

// path resolves ref to a file inside the data directory, rejecting anything
// that is not a well-formed archive name.
func (s *FileStore) path(ref archive.Ref) (string, string, bool) {
	name := string(ref)
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", "", false
	}
	id, _, ok := archive.ParseFileName(name)
	if !ok {
		return "", "", false
	}
	return filepath.Join(s.dir, name), id, true
}

// Read loads the archive behind ref. A missing or malformed reference yields
// archive.ErrNotFound; an unparseable file yields *archive.CorruptArchiveError.
func (s *FileStore) Read(ctx context.Context, ref archive.Ref) (*archive.Archive, error) {
	p, id, ok := s.path(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, ref)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("failed to close archive", slog.String("ref", string(ref)), slog.Any("err", err))
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	msgs, err := archive.Decode(data)
	if err != nil {
		return nil, &archive.CorruptArchiveError{Ref: ref, Err: err}
	}
	_, created, _ := archive.ParseFileName(string(ref))
	if created.IsZero() {
		created = info.ModTime().UTC().Truncate(time.Second)
	}
	return &archive.Archive{ChannelID: id, CreatedAt: created, Messages: msgs}, nil
}

// Open returns the raw file behind ref for streaming. The caller closes it.
func (s *FileStore) Open(ref archive.Ref) (*os.File, os.FileInfo, error) {
	p, _, ok := s.path(ref)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", archive.ErrNotFound, ref)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", archive.ErrNotFound, ref)
		}
		return nil, nil, fmt.Errorf("open %s: %w", ref, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	return f, info, nil
}

// DeleteAll removes every archive file. Per-file failures are logged and
// skipped; the returned count covers only files actually removed.
func (s *FileStore) DeleteAll(ctx context.Context) (int, error) {
	index, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var deleted, skipped int
	for _, entries := range index {
		for _, e := range entries {
			if err := s.remove(ctx, e.Ref); err != nil {
				skipped++
				s.logger.Warn("failed to delete archive", slog.String("ref", string(e.Ref)), slog.Any("err", err))
				continue
			}
			deleted++
		}
	}
	telemetry.AddDeleted(deleted)
	s.logger.Info("archives deleted", slog.Int("deleted", deleted), slog.Int("skipped", skipped))
	return deleted, nil
}

// remove deletes one archive file and its mirror copy.
func (s *FileStore) remove(ctx context.Context, ref archive.Ref) error {
	p, _, ok := s.path(ref)
	if !ok {
		return &archive.PersistenceError{Op: "delete", Path: string(ref), Err: archive.ErrNotFound}
	}
	if err := s.removeFile(p); err != nil {
		return &archive.PersistenceError{Op: "delete", Path: p, Err: err}
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, string(ref)); err != nil {
			telemetry.Inc(telemetry.MirrorFailures)
			s.logger.Warn("mirror delete failed", slog.String("ref", string(ref)), slog.Any("err", err))
		}
	}
	return nil
}
