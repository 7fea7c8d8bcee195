package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-archiver/archive"
)

// RetentionPolicy defines which archives are pruned.
type RetentionPolicy struct {
	// KeepDays: archives older than this many days are eligible for pruning (0 = disabled)
	KeepDays int
	// KeepCount: keep only the N most recent archives per channel (0 = disabled)
	KeepCount int
	// DryRun: log what would be deleted without deleting
	DryRun bool
	// Interval: how often the retention job runs
	Interval time.Duration
}

// Enabled reports whether any pruning rule is configured.
func (p RetentionPolicy) Enabled() bool { return p.KeepDays > 0 || p.KeepCount > 0 }

// LoadRetentionPolicy reads RETENTION_KEEP_DAYS, RETENTION_KEEP_COUNT,
// RETENTION_DRY_RUN and RETENTION_INTERVAL. Invalid values keep the default.
func LoadRetentionPolicy() RetentionPolicy {
	policy := RetentionPolicy{Interval: 6 * time.Hour}

	if s := os.Getenv("RETENTION_KEEP_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.KeepDays = n
		}
	}
	if s := os.Getenv("RETENTION_KEEP_COUNT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.KeepCount = n
		}
	}
	if os.Getenv("RETENTION_DRY_RUN") == "1" {
		policy.DryRun = true
	}
	if s := os.Getenv("RETENTION_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}
	return policy
}

// PruneResult summarizes one retention pass.
type PruneResult struct {
	Deleted []archive.Ref
	Kept    int
	Errors  int
}

// Prune removes archives outside the policy. An archive is retained when it is
// among the newest KeepCount of its channel or younger than KeepDays; with
// both rules set, satisfying either keeps it. The newest archive of each
// channel is never pruned.
func (s *FileStore) Prune(ctx context.Context, policy RetentionPolicy, now time.Time) (PruneResult, error) {
	var res PruneResult
	if !policy.Enabled() {
		return res, nil
	}
	logger := s.logger.With(slog.String("job", "retention"), slog.Bool("dry_run", policy.DryRun))

	index, err := s.List(ctx)
	if err != nil {
		return res, err
	}
	var cutoff time.Time
	if policy.KeepDays > 0 {
		cutoff = now.Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}

	for id, entries := range index {
		// entries are oldest first
		for i, e := range entries {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			fromNewest := len(entries) - 1 - i
			if retained(policy, cutoff, e, fromNewest) {
				res.Kept++
				continue
			}
			if policy.DryRun {
				logger.Info("dry-run: would delete archive", slog.String("ref", string(e.Ref)), slog.String("channel_id", id))
				res.Deleted = append(res.Deleted, e.Ref)
				continue
			}
			if err := s.remove(ctx, e.Ref); err != nil {
				res.Errors++
				logger.Warn("failed to prune archive", slog.String("ref", string(e.Ref)), slog.Any("err", err))
				continue
			}
			res.Deleted = append(res.Deleted, e.Ref)
		}
	}

	mode := "cleanup"
	if policy.DryRun {
		mode = "dry-run"
	}
	logger.Info("retention pass completed",
		slog.String("mode", mode),
		slog.Int("deleted", len(res.Deleted)),
		slog.Int("kept", res.Kept),
		slog.Int("errors", res.Errors))
	return res, nil
}

func retained(p RetentionPolicy, cutoff time.Time, e archive.Entry, fromNewest int) bool {
	if fromNewest == 0 {
		return true
	}
	if p.KeepCount > 0 && fromNewest < p.KeepCount {
		return true
	}
	if p.KeepDays > 0 && !e.CreatedAt.Before(cutoff) {
		return true
	}
	return false
}

// StartRetentionJob prunes once immediately and then on every policy interval
// until ctx is cancelled. It returns at once when the policy is disabled.
func StartRetentionJob(ctx context.Context, s *FileStore, policy RetentionPolicy) {
	if !policy.Enabled() {
		s.logger.Info("retention job disabled (no policy configured)")
		return
	}
	s.logger.Info("retention job starting",
		slog.Int("keep_days", policy.KeepDays),
		slog.Int("keep_count", policy.KeepCount),
		slog.Bool("dry_run", policy.DryRun),
		slog.Duration("interval", policy.Interval))

	if _, err := s.Prune(ctx, policy, time.Now()); err != nil {
		s.logger.Warn("retention pass failed", slog.Any("err", err))
	}

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention job stopped")
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, policy, time.Now()); err != nil {
				s.logger.Warn("retention pass failed", slog.Any("err", err))
			}
		}
	}
}

// CleanupTempFiles removes temp files older than maxAge left behind by
// interrupted writes. It returns the number removed.
func (s *FileStore) CleanupTempFiles(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	now := time.Now()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to read data dir for temp cleanup", slog.String("dir", s.dir), slog.Any("err", err))
		return 0
	}

	var removed, failed int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil {
			failed++
			s.logger.Warn("failed to remove stale temp file", slog.String("path", path), slog.Any("err", err))
			continue
		}
		removed++
		s.logger.Debug("removed stale temp file", slog.String("path", path), slog.Duration("age", now.Sub(fi.ModTime())))
	}
	if removed > 0 || failed > 0 {
		s.logger.Info("temp file cleanup completed", slog.Int("removed", removed), slog.Int("failed", failed))
	}
	return removed
}
